package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsMiddleware records parley_requests_total and
// parley_request_duration_seconds per request, labelled by the ServeMux
// pattern that matched. Responses that start an event stream are counted
// in parley_streaming_connections_active until the handler returns.
//
// It must wrap the ServeMux itself: the mux sets r.Pattern on the request
// it is handed, and an outer middleware would never see it.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &meteredWriter{ResponseWriter: w}
		defer func() {
			if mw.streaming {
				StreamingConnections.Dec()
			}
		}()

		next.ServeHTTP(mw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := mw.status
		if status == 0 {
			status = http.StatusOK
		}

		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status/100)+"xx").Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// meteredWriter remembers the status code and whether the response is an
// event stream.
type meteredWriter struct {
	http.ResponseWriter
	status    int
	streaming bool
}

func (w *meteredWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
		if strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
			w.streaming = true
			StreamingConnections.Inc()
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *meteredWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush on the wrapped writer.
func (w *meteredWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
