// Package metrics exports cache and embedding pipeline metrics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "embedcache"
)

// LatencyBuckets defines histogram buckets for provider latency (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0, 30.0, 60.0,
}

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by namespace and tier",
		},
		[]string{"namespace", "tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by namespace",
		},
		[]string{"namespace"},
	)

	CacheSets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Cache writes by namespace",
		},
		[]string{"namespace"},
	)

	CacheDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "deletes_total",
			Help:      "Cache entries removed by namespace",
		},
		[]string{"namespace"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Remote store failures by operation",
		},
		[]string{"op"},
	)

	// CacheMemoryEntries is the L1 size after the last sweep.
	CacheMemoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "memory_entries",
			Help:      "Entries held in the in-process cache tier",
		},
	)

	// CacheMemoryRemovals counts entries removed by L1 sweeps, by reason.
	CacheMemoryRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "memory_removals_total",
			Help:      "Entries removed from the in-process tier by sweeps (expired, evicted)",
		},
		[]string{"reason"},
	)
)

// =============================================================================
// Embedding Metrics
// =============================================================================

var (
	// EmbeddingRequests counts embeddings served, split by source (cached, generated).
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embeddings served by call kind and source",
		},
		[]string{"kind", "source"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "provider_calls_total",
			Help:      "Embedding provider attempts by outcome",
		},
		[]string{"provider", "status"},
	)

	ProviderInputs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "provider_inputs_total",
			Help:      "Texts sent to the embedding provider",
		},
		[]string{"provider"},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "retries_total",
			Help:      "Embedding provider retries",
		},
		[]string{"provider"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "provider_latency_seconds",
			Help:      "Embedding provider call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider"},
	)
)

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, status code and cache outcome",
		},
		[]string{"route", "status_code", "cache"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route"},
	)
)
