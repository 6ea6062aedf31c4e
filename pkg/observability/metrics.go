// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and HTTP middleware for monitoring parley.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// ToolBuckets covers tool latencies from 10ms to 60s.
var ToolBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// RequestsTotal counts all HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// BackendRequestsTotal counts generation calls sent to backends.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_backend_requests_total",
			Help: "Backend generation requests",
		},
		[]string{"backend", "model", "mode", "status"},
	)

	// BackendLatency records backend call latency in seconds.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_backend_latency_seconds",
			Help:    "Backend generation latency",
			Buckets: LLMBuckets,
		},
		[]string{"backend", "model", "mode"},
	)

	// RetryAttemptsTotal counts retry executor attempts by outcome
	// (success, transient, permanent).
	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_retry_attempts_total",
			Help: "Retry executor attempts",
		},
		[]string{"outcome"},
	)

	// FallbacksTotal counts fallback responses by the class of the error
	// that triggered them.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_fallbacks_total",
			Help: "Fallback responses produced",
		},
		[]string{"reason"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// ToolDuration records tool execution latency in seconds.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: ToolBuckets,
		},
		[]string{"tool_name"},
	)

	// StreamUpdatesTotal counts streaming updates delivered by type.
	StreamUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_stream_updates_total",
			Help: "Streaming updates delivered",
		},
		[]string{"type"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		BackendRequestsTotal,
		BackendLatency,
		RetryAttemptsTotal,
		FallbacksTotal,
		ToolExecutionsTotal,
		ToolDuration,
		StreamUpdatesTotal,
		RateLimitRejectedTotal,
	)
}
