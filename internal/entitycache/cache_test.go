package entitycache

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityflow/internal/entity"
)

type countingResolver struct {
	calls [][]string
	docs  map[string]any
	err   error
}

func (r *countingResolver) Resolve(_ context.Context, _ string, keys []entity.Key) (map[entity.CanonicalKey]entity.Fetched, error) {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.Fields["id"].(string)
	}
	r.calls = append(r.calls, ids)
	if r.err != nil {
		return nil, r.err
	}
	out := map[entity.CanonicalKey]entity.Fetched{}
	for _, k := range keys {
		if d, ok := r.docs[k.Fields["id"].(string)]; ok {
			out[k.Canonical] = entity.Fetched{Document: d}
		}
	}
	return out, nil
}

func userKey(id string) entity.Key {
	return entity.Key{
		Canonical: entity.Canonicalize("User", []entity.KeyField{{Name: "id", Value: id}}),
		Fields:    map[string]any{"id": id},
	}
}

func TestCache_ServesHitsAndForwardsMisses(t *testing.T) {
	next := &countingResolver{docs: map[string]any{"1": "ann", "2": "bob"}}
	c, err := New(next, 8)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := c.Resolve(ctx, "User", []entity.Key{userKey("1"), userKey("3")})
	require.NoError(t, err)
	require.Equal(t, "ann", got[userKey("1").Canonical].Document)
	_, found := got[userKey("3").Canonical]
	require.False(t, found)

	got, err = c.Resolve(ctx, "User", []entity.Key{userKey("1"), userKey("2"), userKey("3")})
	require.NoError(t, err)
	require.Equal(t, "ann", got[userKey("1").Canonical].Document)
	require.Equal(t, "bob", got[userKey("2").Canonical].Document)

	require.Equal(t, [][]string{{"1", "3"}, {"2", "3"}}, next.calls, "not-found keys are never cached")
	require.Equal(t, Stats{Hits: 1, Misses: 4, Len: 2}, c.Stats())

	_, err = c.Resolve(ctx, "User", []entity.Key{userKey("1"), userKey("2")})
	require.NoError(t, err)
	require.Len(t, next.calls, 2, "fully cached groups skip the resolver")

	c.Purge()
	require.Equal(t, 0, c.Stats().Len)
}

func TestCache_GroupErrorPassesThrough(t *testing.T) {
	next := &countingResolver{err: errors.New("down")}
	c, err := New(next, 8)
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), "User", []entity.Key{userKey("1")})
	require.EqualError(t, err, "down")
	require.Equal(t, 0, c.Stats().Len)
}

func TestCache_Evicts(t *testing.T) {
	next := &countingResolver{docs: map[string]any{"1": "a", "2": "b", "3": "c"}}
	c, err := New(next, 2)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Resolve(ctx, "User", []entity.Key{userKey("1"), userKey("2"), userKey("3")})
	require.NoError(t, err)
	require.Equal(t, 2, c.Stats().Len)

	_, err = c.Resolve(ctx, "User", []entity.Key{userKey("1")})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, next.calls[1], "least recently added entry was evicted")
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	_, err := New(&countingResolver{}, 0)
	require.Error(t, err)
}
