// Package transform converts raw stored documents into GraphQL response
// values: snake_case keys become camelCase, the type tag is injected when
// selected and only selected fields are kept.
//
// Only the entity root receives an injected type tag. A __typename selected
// on a nested object is taken from the stored document and is null when the
// document has none.
//
// Every function here is pure. Inputs are never mutated and no state is
// shared, so independent entities may be transformed in parallel.
package transform

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hanpama/entityflow/internal/selection"
)

var (
	// ErrTypenameConflict is returned when a document carries a type tag
	// different from the typename it was resolved as.
	ErrTypenameConflict = errors.New("conflicting __typename")
	// ErrNotObject is returned when an entity document is not an object.
	ErrNotObject = errors.New("entity document is not an object")
)

// CamelCase converts a snake_case key to camelCase. Leading underscores are
// kept, so meta fields such as __typename are unchanged. It is idempotent.
func CamelCase(s string) string {
	lead := 0
	for lead < len(s) && s[lead] == '_' {
		lead++
	}
	body := s[lead:]
	if strings.IndexByte(body, '_') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:lead])
	upper := false
	for _, r := range body {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Keys recursively converts every object key of v to camelCase.
func Keys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return casedObject(x, true)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Keys(e)
		}
		return out
	default:
		return v
	}
}

// casedObject returns obj with camelCase keys, recursing into values when
// deep is set. When two keys collide, the one already in camelCase wins;
// otherwise the lexicographically smallest source key does.
func casedObject(obj map[string]any, deep bool) map[string]any {
	out := make(map[string]any, len(obj))
	src := make(map[string]string, len(obj))
	for k, v := range obj {
		ck := CamelCase(k)
		if prev, taken := src[ck]; taken && !preferKey(k, prev, ck) {
			continue
		}
		if deep {
			v = Keys(v)
		}
		out[ck] = v
		src[ck] = k
	}
	return out
}

func preferKey(k, prev, ck string) bool {
	switch {
	case prev == ck:
		return false
	case k == ck:
		return true
	default:
		return k < prev
	}
}

// lookup finds the value of f in a camelCased object. A value already
// stored under the response key is accepted, so aliased output can be
// transformed again.
func lookup(cased map[string]any, f selection.Field) (any, bool) {
	if v, ok := cased[f.Name]; ok {
		return v, true
	}
	if f.Alias != "" {
		v, ok := cased[f.Alias]
		return v, ok
	}
	return nil, false
}

// Entity transforms doc, resolved as typename, for the selection set. With
// a nil set (no selection known for the typename) the whole document is
// returned with converted keys and the type tag.
func Entity(doc any, set selection.Set, typename string) (any, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w", typename, ErrNotObject)
	}
	if set == nil || set.Has(selection.Typename) {
		if tag, ok := obj[selection.Typename]; ok && tag != nil && tag != typename {
			return nil, fmt.Errorf("%w: document is %v, resolved as %s", ErrTypenameConflict, tag, typename)
		}
	}
	if set == nil {
		out := casedObject(obj, true)
		out[selection.Typename] = typename
		return out, nil
	}

	cased := casedObject(obj, false)
	out := make(map[string]any, len(set))
	for _, f := range set {
		if f.Name == selection.Typename {
			out[f.ResponseKey()] = typename
			continue
		}
		v, ok := lookup(cased, f)
		if !ok && f.Name == "id" {
			v, ok = cased[identityColumn(typename)]
		}
		if !ok {
			out[f.ResponseKey()] = nil
			continue
		}
		out[f.ResponseKey()] = Project(v, f.Selections)
	}
	return out, nil
}

// Project keeps only the selected fields of v. Objects are projected per
// field, lists element-wise in order and scalars pass through. A leaf
// selection keeps the whole value with converted keys. Selected fields
// missing from an object are written as null.
func Project(v any, set selection.Set) any {
	switch x := v.(type) {
	case map[string]any:
		if len(set) == 0 {
			return casedObject(x, true)
		}
		cased := casedObject(x, false)
		out := make(map[string]any, len(set))
		for _, f := range set {
			fv, ok := lookup(cased, f)
			if !ok {
				out[f.ResponseKey()] = nil
				continue
			}
			out[f.ResponseKey()] = Project(fv, f.Selections)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Project(e, set)
		}
		return out
	default:
		return v
	}
}

// identityColumn is the camelCase name of the conventional primary key
// column of typename's read view: User -> userId (stored as user_id).
func identityColumn(typename string) string {
	r, n := utf8.DecodeRuneInString(typename)
	if n == 0 {
		return "id"
	}
	return string(unicode.ToLower(r)) + typename[n:] + "Id"
}
