// Package metrics exposes pipeline events as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanpama/entityflow/internal/entity"
	eventbus "github.com/hanpama/entityflow/internal/eventbus"
	events "github.com/hanpama/entityflow/internal/events"
)

const namespace = "entityflow"

// Metrics holds the collectors fed by pipeline events.
type Metrics struct {
	references    prometheus.Counter
	malformed     prometheus.Counter
	requests      *prometheus.CounterVec // status: ok, error
	groupFetches  *prometheus.CounterVec // typename, status: ok, error
	dedupRatio    prometheus.Histogram
	stageDuration *prometheus.HistogramVec // stage
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		references: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_total",
			Help:      "Total number of entity representations received",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_total",
			Help:      "Total number of representations rejected as malformed",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of _entities requests",
		}, []string{"status"}),
		groupFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_fetches_total",
			Help:      "Total number of batched group fetches",
		}, []string{"typename", "status"}),
		dedupRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedup_ratio",
			Help:      "Unique keys divided by valid references per request",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"stage"}),
	}
	for _, c := range []prometheus.Collector{
		m.references, m.malformed, m.requests, m.groupFetches, m.dedupRatio, m.stageDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Subscribe attaches m to the global event bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	a := eventbus.Subscribe(func(_ context.Context, e events.EntitiesFinish) { m.observeRequest(e) })
	b := eventbus.Subscribe(func(_ context.Context, e events.StageFinish) { m.observeStage(e) })
	return func() { a(); b() }
}

func (m *Metrics) observeRequest(e events.EntitiesFinish) {
	if e.Err != nil {
		m.requests.WithLabelValues("error").Inc()
		return
	}
	m.requests.WithLabelValues("ok").Inc()
	m.references.Add(float64(e.Stats.Total))
	m.malformed.Add(float64(e.Stats.Malformed))
	if e.Stats.Total > e.Stats.Malformed {
		m.dedupRatio.Observe(e.Stats.DedupRatio())
	}
}

func (m *Metrics) observeStage(e events.StageFinish) {
	m.stageDuration.WithLabelValues(string(e.Stage)).Observe(e.Duration.Seconds())
	if e.Stage != entity.StageFetch {
		return
	}
	status := "ok"
	if e.Err != nil {
		status = "error"
	}
	m.groupFetches.WithLabelValues(e.Typename, status).Inc()
}

// CacheStats reports cumulative cache counters.
type CacheStats func() (hits, misses int64, size int)

// RegisterCache exposes an entity cache's counters under the given name.
func RegisterCache(reg prometheus.Registerer, name string, stats CacheStats) error {
	labels := prometheus.Labels{"cache": name}
	cs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Entity cache hits", ConstLabels: labels,
		}, func() float64 { h, _, _ := stats(); return float64(h) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Entity cache misses", ConstLabels: labels,
		}, func() float64 { _, m, _ := stats(); return float64(m) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "Entity cache entries", ConstLabels: labels,
		}, func() float64 { _, _, n := stats(); return float64(n) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
