// Package metrics exposes Prometheus instruments for the prediction service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	Observations     *prometheus.CounterVec
	ObserveRetries   prometheus.Counter
	ObserveConflicts prometheus.Counter
	Queries          *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	CacheLoads       *prometheus.CounterVec
	CacheMisses      prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbol_predict",
			Name:      "observations_total",
			Help:      "Observed sequence windows by outcome (created, incremented, dropped, invalid).",
		}, []string{"outcome"}),
		ObserveRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "symbol_predict",
			Name:      "observe_retries_total",
			Help:      "Store retries performed while recording observations.",
		}),
		ObserveConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "symbol_predict",
			Name:      "observe_conflicts_total",
			Help:      "Increments re-applied because another writer changed the record first.",
		}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbol_predict",
			Name:      "queries_total",
			Help:      "Prediction and explanation queries by operation and outcome (ok, empty, degraded).",
		}, []string{"op", "outcome"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "symbol_predict",
			Name:      "query_duration_seconds",
			Help:      "Latency of prediction and explanation queries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		CacheLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbol_predict",
			Name:      "token_cache_loads_total",
			Help:      "Token cache bulk loads by outcome.",
		}, []string{"outcome"}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "symbol_predict",
			Name:      "token_cache_misses_total",
			Help:      "Token ids referenced by a match but absent from the cache.",
		}),
	}
}
