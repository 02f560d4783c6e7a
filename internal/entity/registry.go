package entity

import (
	"context"
	"fmt"
)

// Resolver resolves one group of unique keys of a single typename.
//
// Contract
//   - Resolve is called at most once per group per request, with every unique
//     key of the group.
//   - A returned error fails the whole group; every key in it becomes a
//     ResolverError. Other groups are unaffected.
//   - A key missing from the returned map, or mapped to a nil Document with a
//     nil Err, is NotFound. A non-nil Err fails only that key.
//   - Implementations must respect ctx and must be safe for concurrent use:
//     groups of one request run in parallel.
//   - Returned documents are treated as read-only snapshots.
type Resolver interface {
	Resolve(ctx context.Context, typename string, keys []Key) (map[CanonicalKey]Fetched, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, typename string, keys []Key) (map[CanonicalKey]Fetched, error)

func (f ResolverFunc) Resolve(ctx context.Context, typename string, keys []Key) (map[CanonicalKey]Fetched, error) {
	return f(ctx, typename, keys)
}

// Binding is the resolution capability registered for one typename.
type Binding struct {
	Typename string
	// KeyFields are the declared key fields; identity is derived from these
	// only. Defaults to ["id"].
	KeyFields []string
	Strategy  Strategy
	Resolver  Resolver
}

// Registry holds the resolver bindings for a pipeline. It is built once,
// before serving, and only read afterwards.
type Registry struct {
	bindings map[string]*Binding
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: map[string]*Binding{}}
}

// RegisterDirect binds typename to a storage lookup resolver.
func (r *Registry) RegisterDirect(typename string, resolver Resolver, keyFields ...string) error {
	return r.Register(Binding{Typename: typename, KeyFields: keyFields, Strategy: Direct, Resolver: resolver})
}

// RegisterCustom binds typename to a custom resolution function.
func (r *Registry) RegisterCustom(typename string, fn ResolverFunc, keyFields ...string) error {
	return r.Register(Binding{Typename: typename, KeyFields: keyFields, Strategy: Custom, Resolver: fn})
}

// Register adds b. A typename can be bound only once.
func (r *Registry) Register(b Binding) error {
	if b.Typename == "" {
		return fmt.Errorf("register: empty typename")
	}
	if b.Resolver == nil {
		return fmt.Errorf("register %s: nil resolver", b.Typename)
	}
	if _, ok := r.bindings[b.Typename]; ok {
		return fmt.Errorf("register %s: already registered", b.Typename)
	}
	if len(b.KeyFields) == 0 {
		b.KeyFields = []string{"id"}
	}
	seen := make(map[string]struct{}, len(b.KeyFields))
	for _, f := range b.KeyFields {
		if f == "" {
			return fmt.Errorf("register %s: empty key field", b.Typename)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("register %s: duplicate key field %q", b.Typename, f)
		}
		seen[f] = struct{}{}
	}
	b.KeyFields = append([]string(nil), b.KeyFields...)
	r.bindings[b.Typename] = &b
	r.order = append(r.order, b.Typename)
	return nil
}

// Lookup returns the binding for typename, or nil.
func (r *Registry) Lookup(typename string) *Binding {
	if r == nil {
		return nil
	}
	return r.bindings[typename]
}

// Typenames lists registered typenames in registration order.
func (r *Registry) Typenames() []string {
	return append([]string(nil), r.order...)
}
