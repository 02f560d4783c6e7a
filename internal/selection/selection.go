// Package selection models the per-typename field selection that drives
// response projection, and builds it from a parsed `_entities` query.
package selection

// Typename is the GraphQL type tag meta field.
const Typename = "__typename"

// Any holds fields selected outside of any type condition. They apply to
// every typename.
const Any = "*"

// Field is one selected field. Selections is empty for leaf fields.
type Field struct {
	Name string
	// Alias is the response key when it differs from Name.
	Alias      string
	Selections Set
}

// ResponseKey is the key the field is written under.
func (f Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Set is an ordered selection set. Response keys are unique within a Set.
type Set []Field

// Has reports whether a field named name is selected.
func (s Set) Has(name string) bool {
	for _, f := range s {
		if f.Name == name {
			return true
		}
	}
	return false
}

// merge returns s with the fields of o appended, merging sub-selections of
// fields that share a response key.
func (s Set) merge(o Set) Set {
	if len(o) == 0 {
		return s
	}
	out := make(Set, len(s), len(s)+len(o))
	copy(out, s)
	idx := make(map[string]int, len(out))
	for i, f := range out {
		idx[f.ResponseKey()] = i
	}
	for _, f := range o {
		if i, ok := idx[f.ResponseKey()]; ok {
			out[i].Selections = out[i].Selections.merge(f.Selections)
			continue
		}
		idx[f.ResponseKey()] = len(out)
		out = append(out, f)
	}
	return out
}

// PerType maps a typename to its selection set; the Any entry applies to all.
type PerType map[string]Set

// For returns the selection set for typename, merging the fields selected
// for every type. ok is false when nothing was selected for the typename,
// in which case the caller performs no projection.
func (p PerType) For(typename string) (Set, bool) {
	typed, hasTyped := p[typename]
	common, hasCommon := p[Any]
	switch {
	case hasTyped && hasCommon:
		return common.merge(typed), true
	case hasTyped:
		return typed, true
	case hasCommon:
		return common, true
	}
	return nil, false
}

// Add merges set into the selection of typename.
func (p PerType) Add(typename string, set Set) {
	p[typename] = p[typename].merge(set)
}
