// Package reqid carries a per-request identifier through context.
package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
)

// Header is the HTTP header used to accept and echo request IDs.
const Header = "X-Request-Id"

// key is the context key for the request ID.
type key struct{}

// scope is allocated once per request; its address tells requests apart
// when they share an ID.
type scope struct{ id string }

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	id := strconv.FormatUint(rand.Uint64(), 16)
	return context.WithValue(parent, key{}, &scope{id}), id
}

// WithID stores a caller supplied ID, such as one received from an upstream
// gateway. An empty id generates a new one.
func WithID(parent context.Context, id string) (context.Context, string) {
	if id == "" {
		return NewContext(parent)
	}
	return context.WithValue(parent, key{}, &scope{id}), id
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(key{}).(*scope)
	if !ok {
		return "", false
	}
	return s.id, true
}

// Scope returns a comparable value unique to the NewContext or WithID call
// that produced ctx, even when two requests forward the same upstream ID.
// It returns nil when ctx carries no request ID.
func Scope(ctx context.Context) any {
	s, ok := ctx.Value(key{}).(*scope)
	if !ok {
		return nil
	}
	return s
}
