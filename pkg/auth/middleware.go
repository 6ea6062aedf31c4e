package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/observability"
)

// ExemptPaths skip authentication.
var ExemptPaths = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request outside exempt with chain and, if
// limiter is non-nil, applies rate limits to the resulting identity. The
// identity is stored in the request context.
func Middleware(chain *Chain, limiter RateLimiter, exempt []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(exempt, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				writeError(w, http.StatusUnauthorized, &api.APIError{
					Type:    api.ErrorTypeAuthentication,
					Message: ErrUnauthenticated.Error(),
				})
				return
			}
			id := res.Identity

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					tier := id.Tier
					if tier == "" {
						tier = DefaultTier
					}
					observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", tier)
					writeError(w, http.StatusTooManyRequests, &api.APIError{
						Type:    api.ErrorTypeTooManyRequests,
						Message: err.Error(),
					})
					return
				}
			}

			slog.Debug("authenticated", "subject", id.Subject, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, apiErr *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}
