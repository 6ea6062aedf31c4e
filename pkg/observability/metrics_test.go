package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegistered(t *testing.T) {
	// Vectors are only gathered once a child exists.
	RequestsTotal.WithLabelValues("GET", "test", "2xx").Inc()
	RequestDuration.WithLabelValues("GET", "test").Observe(0.1)
	BackendRequestsTotal.WithLabelValues("local", "m", "send", "ok").Inc()
	BackendLatency.WithLabelValues("local", "m", "send").Observe(0.1)
	RetryAttemptsTotal.WithLabelValues("success").Inc()
	FallbacksTotal.WithLabelValues("test").Inc()
	ToolExecutionsTotal.WithLabelValues("calculator", "ok").Inc()
	ToolDuration.WithLabelValues("calculator").Observe(0.01)
	StreamUpdatesTotal.WithLabelValues("content").Inc()
	RateLimitRejectedTotal.WithLabelValues("default").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := make(map[string]bool, len(families))
	for _, mf := range families {
		seen[mf.GetName()] = true
	}

	for _, name := range []string{
		"parley_requests_total",
		"parley_request_duration_seconds",
		"parley_streaming_connections_active",
		"parley_backend_requests_total",
		"parley_backend_latency_seconds",
		"parley_retry_attempts_total",
		"parley_fallbacks_total",
		"parley_tool_executions_total",
		"parley_tool_duration_seconds",
		"parley_stream_updates_total",
		"parley_ratelimit_rejected_total",
	} {
		if !seen[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMiddlewareLabels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		pattern    string // registered on a ServeMux when set
		status     int
		wantRoute  string
		wantStatus string
	}{
		{name: "unrouted ok", method: "GET", target: "/v1/backends", status: http.StatusOK, wantRoute: "unmatched", wantStatus: "2xx"},
		{name: "client error", method: "POST", target: "/v1/chat", status: http.StatusBadRequest, wantRoute: "unmatched", wantStatus: "4xx"},
		{name: "upstream failure", method: "POST", target: "/v1/chat", status: http.StatusBadGateway, wantRoute: "unmatched", wantStatus: "5xx"},
		{
			name:       "route pattern",
			method:     "POST",
			target:     "/v1/templates/greeting/execute",
			pattern:    "POST /v1/templates/{name}/execute",
			status:     http.StatusOK,
			wantRoute:  "POST /v1/templates/{name}/execute",
			wantStatus: "2xx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inner http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			if tt.pattern != "" {
				mux := http.NewServeMux()
				mux.Handle(tt.pattern, inner)
				inner = mux
			}

			count := counterValue(t, RequestsTotal, tt.method, tt.wantRoute, tt.wantStatus)
			samples := histogramCount(t, RequestDuration, tt.method, tt.wantRoute)

			MetricsMiddleware(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.target, nil))

			if d := counterValue(t, RequestsTotal, tt.method, tt.wantRoute, tt.wantStatus) - count; d != 1 {
				t.Errorf("request counter delta = %v, want 1", d)
			}
			if d := histogramCount(t, RequestDuration, tt.method, tt.wantRoute) - samples; d != 1 {
				t.Errorf("duration samples delta = %d, want 1", d)
			}
		})
	}
}

func TestMiddlewareImplicitOK(t *testing.T) {
	count := counterValue(t, RequestsTotal, "GET", "unmatched", "2xx")
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	if d := counterValue(t, RequestsTotal, "GET", "unmatched", "2xx") - count; d != 1 {
		t.Errorf("a body without WriteHeader should count as 2xx, delta = %v", d)
	}
}

func TestMiddlewareStreamingGauge(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantDelta   float64
	}{
		{"event stream", "text/event-stream", 1},
		{"json on a stream path", "application/json", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseline := gaugeValue(t, StreamingConnections)

			var during float64
			h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusOK)
				during = gaugeValue(t, StreamingConnections)
				http.NewResponseController(w).Flush()
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/stream", nil))

			if during-baseline != tt.wantDelta {
				t.Errorf("gauge during request = %v, want %v", during, baseline+tt.wantDelta)
			}
			if after := gaugeValue(t, StreamingConnections); after != baseline {
				t.Errorf("gauge after request = %v, want %v", after, baseline)
			}
			if !rec.Flushed {
				t.Error("flush did not reach the underlying writer")
			}
		})
	}
}

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := cv.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	var m dto.Metric
	if err := hv.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("reading histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}
