package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityflow/internal/entity"
	eventbus "github.com/hanpama/entityflow/internal/eventbus"
	events "github.com/hanpama/entityflow/internal/events"
)

func TestMetricsFromEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	eventbus.Publish(ctx, events.EntitiesFinish{Stats: entity.Stats{Total: 10, Malformed: 2, Unique: 4, Groups: 2}})
	eventbus.Publish(ctx, events.EntitiesFinish{Err: entity.ErrInvalidRepresentations})
	eventbus.Publish(ctx, events.StageFinish{Stage: entity.StageFetch, Typename: "User", Duration: time.Millisecond})
	eventbus.Publish(ctx, events.StageFinish{Stage: entity.StageFetch, Typename: "User", Err: errors.New("x")})
	eventbus.Publish(ctx, events.StageFinish{Stage: entity.StageTransform, Duration: time.Millisecond})

	require.Equal(t, 10.0, testutil.ToFloat64(m.references))
	require.Equal(t, 2.0, testutil.ToFloat64(m.malformed))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.groupFetches.WithLabelValues("User", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.groupFetches.WithLabelValues("User", "error")))

	expected := `
# HELP entityflow_dedup_ratio Unique keys divided by valid references per request
# TYPE entityflow_dedup_ratio histogram
entityflow_dedup_ratio_bucket{le="0.1"} 0
entityflow_dedup_ratio_bucket{le="0.25"} 0
entityflow_dedup_ratio_bucket{le="0.5"} 1
entityflow_dedup_ratio_bucket{le="0.75"} 1
entityflow_dedup_ratio_bucket{le="0.9"} 1
entityflow_dedup_ratio_bucket{le="1"} 1
entityflow_dedup_ratio_bucket{le="+Inf"} 1
entityflow_dedup_ratio_sum 0.5
entityflow_dedup_ratio_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "entityflow_dedup_ratio"))
	require.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
}

func TestRegisterCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterCache(reg, "User", func() (int64, int64, int) { return 3, 5, 2 }))

	expected := `
# HELP entityflow_cache_hits_total Entity cache hits
# TYPE entityflow_cache_hits_total counter
entityflow_cache_hits_total{cache="User"} 3
# HELP entityflow_cache_entries Entity cache entries
# TYPE entityflow_cache_entries gauge
entityflow_cache_entries{cache="User"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"entityflow_cache_hits_total", "entityflow_cache_entries"))
	require.Error(t, RegisterCache(reg, "User", func() (int64, int64, int) { return 0, 0, 0 }))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
