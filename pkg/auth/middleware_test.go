package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/observability"
)

func okHandler(got **Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			*got = IdentityFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareExemptPaths(t *testing.T) {
	h := Middleware(&Chain{Default: No}, nil, ExemptPaths)(okHandler(nil))

	for _, path := range ExemptPaths {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMiddlewareRejects(t *testing.T) {
	h := Middleware(&Chain{Default: No}, nil, ExemptPaths)(okHandler(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var body api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error == nil || body.Error.Type != api.ErrorTypeAuthentication {
		t.Errorf("unexpected body: %+v", body.Error)
	}
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	var got *Identity
	h := Middleware(&Chain{Authenticators: []Authenticator{voteYes}, Default: No}, nil, ExemptPaths)(okHandler(&got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Subject != "alice" {
		t.Errorf("identity = %+v", got)
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, *Identity) error { return ErrTooManyRequests }

func TestMiddlewareRateLimit(t *testing.T) {
	counter := observability.RateLimitRejectedTotal.WithLabelValues(DefaultTier)
	before := &dto.Metric{}
	counter.Write(before)

	h := Middleware(&Chain{Authenticators: []Authenticator{voteYes}, Default: No}, denyAll{}, ExemptPaths)(okHandler(nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	after := &dto.Metric{}
	counter.Write(after)
	if after.GetCounter().GetValue() != before.GetCounter().GetValue()+1 {
		t.Error("rejection not counted")
	}
}
