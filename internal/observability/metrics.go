// Package observability exposes Prometheus metrics for the chat backend.
// Collectors are registered once on the default registry and shared by every
// component; the /metrics endpoint serves them via promhttp.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts chat requests by endpoint and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketllm_requests_total",
		Help: "Total chat requests by endpoint and status.",
	}, []string{"endpoint", "status"})

	// CacheHits counts response-cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pocketllm_cache_hits_total",
		Help: "Total response cache hits.",
	})

	// CacheMisses counts response-cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pocketllm_cache_misses_total",
		Help: "Total response cache misses.",
	})

	// EngineErrors counts failed engine invocations by error type.
	EngineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketllm_engine_errors_total",
		Help: "Total engine failures by error type.",
	}, []string{"type"})

	// GenerationDuration observes wall time of engine generations.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pocketllm_generation_duration_seconds",
		Help:    "Engine generation latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
