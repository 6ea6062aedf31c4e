package transport

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/rhuss/parley/pkg/api"
)

// Recovery turns a handler panic into a 500 response. The server keeps
// serving afterwards. http.ErrAbortHandler is re-raised.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic in handler",
					"request_id", RequestIDFromContext(r.Context()),
					"panic", v,
					"stack", string(debug.Stack()),
				)
				if !rec.wroteHeader {
					WriteErrorResponse(w, &api.APIError{
						Type:    api.ErrorTypeServerError,
						Message: "internal server error",
					}, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
