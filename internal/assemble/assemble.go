// Package assemble streams pipeline results as GraphQL response JSON.
//
// Values are written straight to the output stream; object fields follow
// the order of the query's selection set. Positions that failed are written
// as null and reported in a parallel, position-ordered error list.
package assemble

import (
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanpama/entityflow/internal/entity"
	"github.com/hanpama/entityflow/internal/selection"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// flushThreshold is the buffered size after which values are flushed to the
// underlying writer between array elements.
const flushThreshold = 32 << 10

// Error is one entry of the response "errors" list.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Errors converts the failed positions of res into response errors whose
// path is [field, position].
func Errors(field string, res *entity.Result) []Error {
	if len(res.Errors) == 0 {
		return nil
	}
	out := make([]Error, len(res.Errors))
	for i, pe := range res.Errors {
		out[i] = Error{
			Message: pe.Err.Message,
			Path:    []any{field, pe.Position},
			Extensions: map[string]any{
				"code": pe.Err.Code,
				"kind": pe.Err.Kind.String(),
			},
		}
	}
	return out
}

// WriteList writes the values of res as a JSON array, one element per
// representation.
func WriteList(w io.Writer, res *entity.Result, sel selection.PerType) error {
	s := api.BorrowStream(w)
	defer api.ReturnStream(s)
	writeList(s, res, sel)
	return finish(s)
}

// WriteSingle writes the first value of res, or null, for a singular field.
func WriteSingle(w io.Writer, res *entity.Result, sel selection.PerType) error {
	s := api.BorrowStream(w)
	defer api.ReturnStream(s)
	writeSingle(s, res, sel)
	return finish(s)
}

// WriteEnvelope writes a complete {"data": {field: ...}, "errors": [...]}
// response. list selects an array or a single object for field.
func WriteEnvelope(w io.Writer, field string, list bool, res *entity.Result, sel selection.PerType) error {
	s := api.BorrowStream(w)
	defer api.ReturnStream(s)

	s.WriteObjectStart()
	s.WriteObjectField("data")
	s.WriteObjectStart()
	s.WriteObjectField(field)
	if list {
		writeList(s, res, sel)
	} else {
		writeSingle(s, res, sel)
	}
	s.WriteObjectEnd()
	if errs := Errors(field, res); len(errs) > 0 {
		s.WriteMore()
		s.WriteObjectField("errors")
		s.WriteVal(errs)
	}
	s.WriteObjectEnd()
	return finish(s)
}

func writeList(s *jsoniter.Stream, res *entity.Result, sel selection.PerType) {
	s.WriteArrayStart()
	for i, v := range res.Values {
		if i > 0 {
			s.WriteMore()
		}
		writeEntity(s, v, res.Typenames[i], sel)
		if s.Buffered() > flushThreshold {
			_ = s.Flush()
		}
	}
	s.WriteArrayEnd()
}

func writeSingle(s *jsoniter.Stream, res *entity.Result, sel selection.PerType) {
	if len(res.Values) == 0 {
		s.WriteNil()
		return
	}
	writeEntity(s, res.Values[0], res.Typenames[0], sel)
}

func writeEntity(s *jsoniter.Stream, v any, typename string, sel selection.PerType) {
	set, ok := sel.For(typename)
	if !ok {
		set = nil
	}
	writeValue(s, v, set)
}

// writeValue writes v, ordering object fields by set. Objects without a
// selection are written with sorted keys.
func writeValue(s *jsoniter.Stream, v any, set selection.Set) {
	switch x := v.(type) {
	case nil:
		s.WriteNil()
	case map[string]any:
		if len(set) == 0 {
			writeSorted(s, x)
			return
		}
		s.WriteObjectStart()
		n := 0
		for _, f := range set {
			fv, ok := x[f.ResponseKey()]
			if !ok {
				continue
			}
			if n > 0 {
				s.WriteMore()
			}
			s.WriteObjectField(f.ResponseKey())
			writeValue(s, fv, f.Selections)
			n++
		}
		s.WriteObjectEnd()
	case []any:
		s.WriteArrayStart()
		for i, e := range x {
			if i > 0 {
				s.WriteMore()
			}
			writeValue(s, e, set)
		}
		s.WriteArrayEnd()
	default:
		s.WriteVal(x)
	}
}

func writeSorted(s *jsoniter.Stream, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.WriteObjectStart()
	for i, k := range keys {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteObjectField(k)
		writeValue(s, m[k], nil)
	}
	s.WriteObjectEnd()
}

func finish(s *jsoniter.Stream) error {
	if s.Error != nil {
		return s.Error
	}
	return s.Flush()
}
