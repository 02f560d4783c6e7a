package entity

import (
	"context"
	"sort"
	"sync"
)

// call is one recorded Resolve invocation.
type call struct {
	Typename string
	Keys     []string
}

// recorder records every Resolve call before delegating to next.
type recorder struct {
	mu    sync.Mutex
	calls []call
	next  ResolverFunc
}

func record(next ResolverFunc) *recorder { return &recorder{next: next} }

func (r *recorder) Resolve(ctx context.Context, typename string, keys []Key) (map[CanonicalKey]Fetched, error) {
	ks := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = k.Canonical.String()
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{Typename: typename, Keys: ks})
	r.mu.Unlock()
	return r.next(ctx, typename, keys)
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]call(nil), r.calls...)
	sort.Slice(out, func(i, j int) bool { return out[i].Typename < out[j].Typename })
	return out
}

// table serves docs whose "id" matches a requested key.
func table(docs ...map[string]any) ResolverFunc {
	return func(_ context.Context, typename string, keys []Key) (map[CanonicalKey]Fetched, error) {
		out := map[CanonicalKey]Fetched{}
		for _, k := range keys {
			for _, d := range docs {
				if Canonicalize(typename, []KeyField{{Name: "id", Value: d["id"]}}) == k.Canonical {
					out[k.Canonical] = Fetched{Document: d}
				}
			}
		}
		return out, nil
	}
}

func failing(err error) ResolverFunc {
	return func(context.Context, string, []Key) (map[CanonicalKey]Fetched, error) {
		return nil, err
	}
}

func ref(typename string, id any) map[string]any {
	return map[string]any{TypenameField: typename, "id": id}
}

func reps(objs ...map[string]any) []any {
	out := make([]any, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out
}

func mustRegistry(t interface{ Fatalf(string, ...any) }, bindings ...Binding) *Registry {
	reg := NewRegistry()
	for _, b := range bindings {
		if err := reg.Register(b); err != nil {
			t.Fatalf("register %s: %v", b.Typename, err)
		}
	}
	return reg
}

// errorKinds maps failed positions to their kind.
func errorKinds(res *Result) map[int]Kind {
	out := map[int]Kind{}
	for _, pe := range res.Errors {
		out[pe.Position] = pe.Err.Kind
	}
	return out
}
