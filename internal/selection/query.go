package selection

import (
	"fmt"

	language "github.com/hanpama/entityflow/internal/language"
)

// EntitiesField is the federation root field carrying representations.
const EntitiesField = "_entities"

// FromQuery builds the per-typename selection of the root field named field
// (EntitiesField when empty) in the chosen operation. Inline fragments and
// fragment spreads with a type condition select fields for that typename;
// fields outside any type condition are stored under Any. @skip and @include
// are evaluated against variables.
func FromQuery(doc *language.QueryDocument, operationName string, variables map[string]any, field string) (PerType, error) {
	if field == "" {
		field = EntitiesField
	}
	op := doc.Operations.ForName(operationName)
	if op == nil && operationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", operationName)
	}
	c := &collector{doc: doc, vars: variables}
	root := c.findRootField(op.SelectionSet, field, map[string]bool{})
	if root == nil {
		return nil, fmt.Errorf("field %q not selected by operation", field)
	}
	out := PerType{}
	c.collectTyped(out, Any, root.SelectionSet, map[string]bool{})
	return out, nil
}

type collector struct {
	doc  *language.QueryDocument
	vars map[string]any
}

func (c *collector) findRootField(set language.SelectionSet, name string, visited map[string]bool) *language.Field {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if s.Name == name && c.include(s.Directives) {
				return s
			}
		case *language.InlineFragment:
			if !c.include(s.Directives) {
				continue
			}
			if f := c.findRootField(s.SelectionSet, name, visited); f != nil {
				return f
			}
		case *language.FragmentSpread:
			if visited[s.Name] || !c.include(s.Directives) {
				continue
			}
			visited[s.Name] = true
			if def := c.fragment(s.Name); def != nil {
				if f := c.findRootField(def.SelectionSet, name, visited); f != nil {
					return f
				}
			}
		}
	}
	return nil
}

// collectTyped walks the entity-level selection set. Type conditions route
// fields to their typename; unconditioned fields go to typename.
func (c *collector) collectTyped(out PerType, typename string, set language.SelectionSet, visited map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if !c.include(s.Directives) {
				continue
			}
			out.Add(typename, Set{c.field(s)})
		case *language.InlineFragment:
			if !c.include(s.Directives) {
				continue
			}
			tn := typename
			if s.TypeCondition != "" {
				tn = s.TypeCondition
			}
			if _, ok := out[tn]; !ok {
				out[tn] = Set{}
			}
			c.collectTyped(out, tn, s.SelectionSet, visited)
		case *language.FragmentSpread:
			if visited[s.Name] || !c.include(s.Directives) {
				continue
			}
			def := c.fragment(s.Name)
			if def == nil || !c.include(def.Directives) {
				continue
			}
			visited[s.Name] = true
			tn := typename
			if def.TypeCondition != "" {
				tn = def.TypeCondition
			}
			if _, ok := out[tn]; !ok {
				out[tn] = Set{}
			}
			c.collectTyped(out, tn, def.SelectionSet, visited)
			delete(visited, s.Name)
		}
	}
}

// collectNested flattens a nested selection set. Type conditions below the
// entity level are not known to the projection and are merged.
func (c *collector) collectNested(set language.SelectionSet, visited map[string]bool) Set {
	var out Set
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if c.include(s.Directives) {
				out = out.merge(Set{c.field(s)})
			}
		case *language.InlineFragment:
			if c.include(s.Directives) {
				out = out.merge(c.collectNested(s.SelectionSet, visited))
			}
		case *language.FragmentSpread:
			if visited[s.Name] || !c.include(s.Directives) {
				continue
			}
			def := c.fragment(s.Name)
			if def == nil || !c.include(def.Directives) {
				continue
			}
			visited[s.Name] = true
			out = out.merge(c.collectNested(def.SelectionSet, visited))
			delete(visited, s.Name)
		}
	}
	return out
}

func (c *collector) field(f *language.Field) Field {
	out := Field{Name: f.Name}
	if f.Alias != "" && f.Alias != f.Name {
		out.Alias = f.Alias
	}
	if len(f.SelectionSet) > 0 {
		out.Selections = c.collectNested(f.SelectionSet, map[string]bool{})
	}
	return out
}

func (c *collector) fragment(name string) *language.FragmentDefinition {
	if fd := c.doc.Fragments.ForName(name); fd != nil {
		return fd
	}
	return nil
}

// include evaluates @skip and @include.
func (c *collector) include(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := c.directiveBool(skip); ok && v {
			return false
		}
	}
	if inc := directives.ForName("include"); inc != nil {
		if v, ok := c.directiveBool(inc); ok && !v {
			return false
		}
	}
	return true
}

func (c *collector) directiveBool(d *language.Directive) (bool, bool) {
	for _, arg := range d.Arguments {
		if arg.Name != "if" || arg.Value == nil {
			continue
		}
		switch arg.Value.Kind {
		case language.Variable:
			b, ok := c.vars[arg.Value.Raw].(bool)
			return b, ok
		case language.BooleanValue:
			return arg.Value.Raw == "true", true
		}
	}
	return false, false
}

// RootResponseKey returns the response key (alias or name) of the root
// field named field in the chosen operation, or field when it is not found.
func RootResponseKey(doc *language.QueryDocument, operationName string, variables map[string]any, field string) string {
	if field == "" {
		field = EntitiesField
	}
	op := doc.Operations.ForName(operationName)
	if op == nil && operationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return field
	}
	c := &collector{doc: doc, vars: variables}
	if f := c.findRootField(op.SelectionSet, field, map[string]bool{}); f != nil && f.Alias != "" {
		return f.Alias
	}
	return field
}
