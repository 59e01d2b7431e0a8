// Package metrics provides the reflex layer's Prometheus metrics registry:
// per-stage counters and histograms registered once via promauto and
// exposed at /metrics in text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reflex"

// LatencyBuckets covers the sub-millisecond-to-second range the pipeline is
// expected to operate in; the Shares-of-core budget puts the whole pipeline
// at single-digit microseconds to low milliseconds under normal load.
var LatencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var (
	// HTTPRequestsTotal counts requests by method and path.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path"},
	)

	// HTTPRequestDuration tracks end-to-end HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// PIIDetectionDuration tracks time spent in the PII engine.
	PIIDetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pii_detection_duration_seconds",
			Help:      "PII engine scan latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"pattern_set"},
	)

	// PIIDetectionsTotal counts PII matches found, by type.
	PIIDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_detections_total",
			Help:      "Total PII detections by type",
		},
		[]string{"pii_type"},
	)

	// InjectionDetectionDuration tracks time spent in the injection engine.
	InjectionDetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "injection_detection_duration_seconds",
			Help:      "Injection engine scan latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"mode"},
	)

	// InjectionDetectionsTotal counts injection matches found, by severity.
	InjectionDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injection_detections_total",
			Help:      "Total injection detections by severity",
		},
		[]string{"severity"},
	)

	// CacheHitsTotal counts verdict cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total verdict cache hits",
		},
	)

	// CacheMissesTotal counts verdict cache misses.
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total verdict cache misses",
		},
	)

	// CacheOperationDuration tracks cache backend round-trip latency.
	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_operation_duration_seconds",
			Help:      "Cache backend operation latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"operation"},
	)

	// RateLimitAllowedTotal counts requests admitted by the rate limiter.
	RateLimitAllowedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_allowed_total",
			Help:      "Total requests allowed by the rate limiter",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter, by dimension.
	RateLimitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "Total requests rejected by the rate limiter",
		},
		[]string{"dimension"},
	)

	// RateLimitDuration tracks rate-limit check latency, by dimension.
	RateLimitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_duration_seconds",
			Help:      "Rate limit check latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"dimension"},
	)

	// RequestsBlockedTotal counts requests that resulted in a Blocked verdict.
	RequestsBlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_blocked_total",
			Help:      "Total requests blocked by the injection engine",
		},
	)
)
