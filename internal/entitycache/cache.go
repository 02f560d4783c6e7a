// Package entitycache is an optional cross-request cache of resolved entity
// documents. It wraps any entity.Resolver; cached documents are shared,
// read-only snapshots and are never invalidated by the pipeline itself.
package entitycache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hanpama/entityflow/internal/entity"
)

// Cache is an LRU-bounded entity.Resolver decorator. Only found documents
// are cached; not-found keys and failures always reach the wrapped resolver.
type Cache struct {
	next   entity.Resolver
	docs   *lru.Cache[entity.CanonicalKey, any]
	hits   atomic.Int64
	misses atomic.Int64
}

var _ entity.Resolver = (*Cache)(nil)

// New wraps next with an LRU cache holding at most size documents.
func New(next entity.Resolver, size int) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("entitycache: size must be positive, got %d", size)
	}
	docs, err := lru.New[entity.CanonicalKey, any](size)
	if err != nil {
		return nil, err
	}
	return &Cache{next: next, docs: docs}, nil
}

// Resolve serves cached keys and forwards the rest in a single call.
func (c *Cache) Resolve(ctx context.Context, typename string, keys []entity.Key) (map[entity.CanonicalKey]entity.Fetched, error) {
	out := make(map[entity.CanonicalKey]entity.Fetched, len(keys))
	var missing []entity.Key
	for _, k := range keys {
		if doc, ok := c.docs.Get(k.Canonical); ok {
			out[k.Canonical] = entity.Fetched{Document: doc}
			continue
		}
		missing = append(missing, k)
	}
	c.hits.Add(int64(len(keys) - len(missing)))
	c.misses.Add(int64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.Resolve(ctx, typename, missing)
	if err != nil {
		return nil, err
	}
	for _, k := range missing {
		f, ok := fetched[k.Canonical]
		if !ok {
			continue
		}
		out[k.Canonical] = f
		if f.Err == nil && f.Document != nil {
			c.docs.Add(k.Canonical, f.Document)
		}
	}
	return out, nil
}

// Stats reports cache hits and misses since creation.
type Stats struct {
	Hits   int64
	Misses int64
	Len    int
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Len: c.docs.Len()}
}

// Purge drops every cached document.
func (c *Cache) Purge() { c.docs.Purge() }
