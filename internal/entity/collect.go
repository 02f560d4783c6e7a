package entity

// TypenameField is the wire-level type tag of a representation.
const TypenameField = "__typename"

// Collect turns the wire-level representation list into positional
// references. Only a non-list input fails; individual bad representations
// become malformed placeholders at their position.
func Collect(reg *Registry, representations any) ([]Reference, error) {
	var list []any
	switch v := representations.(type) {
	case []any:
		list = v
	case []map[string]any:
		list = make([]any, len(v))
		for i := range v {
			list[i] = v[i]
		}
	default:
		return nil, ErrInvalidRepresentations
	}

	refs := make([]Reference, len(list))
	for i, raw := range list {
		refs[i] = collectOne(reg, raw, i)
	}
	return refs, nil
}

func collectOne(reg *Registry, raw any, pos int) Reference {
	ref := Reference{Position: pos}
	obj, ok := raw.(map[string]any)
	if !ok {
		ref.Malformed = malformed("representation at position %d is not an object", pos)
		return ref
	}
	tn, _ := obj[TypenameField].(string)
	if tn == "" {
		ref.Malformed = malformed("representation at position %d is missing %s", pos, TypenameField)
		return ref
	}
	ref.Typename = tn
	b := reg.Lookup(tn)
	if b == nil {
		ref.Malformed = malformed("unknown entity type %q at position %d", tn, pos)
		return ref
	}
	ref.Keys = make([]KeyField, 0, len(b.KeyFields))
	for _, name := range b.KeyFields {
		v, ok := obj[name]
		if !ok || v == nil {
			ref.Keys = nil
			ref.Malformed = malformed("representation of %s at position %d is missing key field %q", tn, pos, name)
			return ref
		}
		ref.Keys = append(ref.Keys, KeyField{Name: name, Value: v})
	}
	return ref
}
