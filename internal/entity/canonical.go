package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize derives the canonical key of a typename and its key fields.
//
// Normalization rules, applied recursively to every key value:
//   - Integers merge across representations: a JSON number without a
//     fractional part and a string of decimal digits (optional leading '-',
//     no leading zeros) produce the same token, so "1" and 1 are equal while
//     "01" is a distinct string.
//   - Other numbers use the shortest round-trip formatting.
//   - Strings, booleans and null are tagged so they never collide with numbers.
//   - Objects are serialized with their keys sorted; list order is kept.
//
// The key fields themselves are sorted by name, which makes the identity
// independent of the order in which a representation lists them.
func Canonicalize(typename string, keys []KeyField) CanonicalKey {
	sorted := make([]KeyField, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for i, kf := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kf.Name)
		b.WriteByte('=')
		writeToken(&b, kf.Value)
	}
	return CanonicalKey{Typename: typename, Identity: b.String()}
}

// KeyText renders a scalar key value as text with the number rules of
// Canonicalize: 1, 1.0, json.Number("1.0") and "1" all render as "1".
// Strings are returned unchanged and nil renders as "".
func KeyText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		if x == "-0" {
			return "0"
		}
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	var b strings.Builder
	writeToken(&b, v)
	t := b.String()
	if strings.HasPrefix(t, "i:") || strings.HasPrefix(t, "f:") {
		return t[2:]
	}
	return fmt.Sprint(v)
}

func writeToken(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("n")
	case bool:
		if x {
			b.WriteString("b:true")
		} else {
			b.WriteString("b:false")
		}
	case string:
		if isDecimalInteger(x) {
			writeInt(b, x)
			return
		}
		b.WriteString("s:")
		b.WriteString(strconv.Quote(x))
	case json.Number:
		s := string(x)
		if isDecimalInteger(s) {
			writeInt(b, s)
			return
		}
		f, err := x.Float64()
		if err != nil {
			b.WriteString("s:")
			b.WriteString(strconv.Quote(s))
			return
		}
		writeFloat(b, f)
	case int:
		writeInt(b, strconv.FormatInt(int64(x), 10))
	case int8:
		writeInt(b, strconv.FormatInt(int64(x), 10))
	case int16:
		writeInt(b, strconv.FormatInt(int64(x), 10))
	case int32:
		writeInt(b, strconv.FormatInt(int64(x), 10))
	case int64:
		writeInt(b, strconv.FormatInt(x, 10))
	case uint:
		writeInt(b, strconv.FormatUint(uint64(x), 10))
	case uint8:
		writeInt(b, strconv.FormatUint(uint64(x), 10))
	case uint16:
		writeInt(b, strconv.FormatUint(uint64(x), 10))
	case uint32:
		writeInt(b, strconv.FormatUint(uint64(x), 10))
	case uint64:
		writeInt(b, strconv.FormatUint(x, 10))
	case float32:
		writeFloat(b, float64(x))
	case float64:
		writeFloat(b, x)
	case map[string]any:
		names := make([]string, 0, len(x))
		for k := range x {
			names = append(names, k)
		}
		sort.Strings(names)
		b.WriteByte('{')
		for i, k := range names {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeToken(b, x[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeToken(b, e)
		}
		b.WriteByte(']')
	default:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(fmt.Sprint(x)))
	}
}

func writeInt(b *strings.Builder, digits string) {
	if digits == "-0" {
		digits = "0"
	}
	b.WriteString("i:")
	b.WriteString(digits)
}

func writeFloat(b *strings.Builder, f float64) {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) {
		writeInt(b, strconv.FormatFloat(f, 'f', -1, 64))
		return
	}
	b.WriteString("f:")
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// isDecimalInteger matches -?(0|[1-9][0-9]*).
func isDecimalInteger(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	if s[0] == '0' {
		return len(s) == 1
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
