package eventobs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityflow/internal/entity"
	eventbus "github.com/hanpama/entityflow/internal/eventbus"
	events "github.com/hanpama/entityflow/internal/events"
	reqid "github.com/hanpama/entityflow/internal/reqid"
)

func TestObserverPublishesStages(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var starts []events.StageStart
	var finishes []events.StageFinish
	eventbus.Subscribe(func(_ context.Context, e events.StageStart) {
		mu.Lock()
		defer mu.Unlock()
		starts = append(starts, e)
	})
	eventbus.Subscribe(func(_ context.Context, e events.StageFinish) {
		mu.Lock()
		defer mu.Unlock()
		finishes = append(finishes, e)
	})

	reg := entity.NewRegistry()
	require.NoError(t, reg.RegisterCustom("User", func(context.Context, string, []entity.Key) (map[entity.CanonicalKey]entity.Fetched, error) {
		return nil, nil
	}))
	_, err := entity.New(reg, entity.WithObserver(Observer{})).Run(context.Background(), []any{
		map[string]any{"__typename": "User", "id": "1"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, starts, 6)
	require.Len(t, finishes, 6)
	var fetch *events.StageFinish
	for i := range finishes {
		if finishes[i].Stage == entity.StageFetch {
			fetch = &finishes[i]
		}
	}
	require.NotNil(t, fetch)
	require.Equal(t, "User", fetch.Typename)
	require.NoError(t, fetch.Err)
	require.Equal(t, "ok", fetch.Attrs["status"])
	require.Equal(t, entity.StageCollect, starts[0].Stage)
}

func TestObserverWithoutBus(t *testing.T) {
	eventbus.Use(nil)
	ctx := Observer{}.StageStart(context.Background(), entity.StageCollect, nil)
	require.NotPanics(t, func() { Observer{}.StageEnd(ctx, entity.StageCollect, entity.Attrs{}) })
}

func TestObserverPairsStagesOutsideRequests(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var startScopes, finishScopes []any
	eventbus.Subscribe(func(ctx context.Context, _ events.StageStart) {
		mu.Lock()
		defer mu.Unlock()
		startScopes = append(startScopes, reqid.Scope(ctx))
	})
	eventbus.Subscribe(func(ctx context.Context, _ events.StageFinish) {
		mu.Lock()
		defer mu.Unlock()
		finishScopes = append(finishScopes, reqid.Scope(ctx))
	})

	a := Observer{}.StageStart(context.Background(), entity.StageCollect, nil)
	b := Observer{}.StageStart(context.Background(), entity.StageCollect, nil)
	Observer{}.StageEnd(b, entity.StageCollect, entity.Attrs{})
	Observer{}.StageEnd(a, entity.StageCollect, entity.Attrs{})

	require.Len(t, startScopes, 2)
	require.NotNil(t, startScopes[0])
	require.NotEqual(t, startScopes[0], startScopes[1])
	require.Equal(t, []any{startScopes[1], startScopes[0]}, finishScopes)

	ctx, _ := reqid.WithID(context.Background(), "gw-1")
	kept := Observer{}.StageStart(ctx, entity.StageCollect, nil)
	require.Equal(t, reqid.Scope(ctx), reqid.Scope(kept))
}
