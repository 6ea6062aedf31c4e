package openaicompat

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/rhuss/parley/pkg/api"
)

func makeResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status        int
		body          string
		wantTransient bool
		wantMessage   string
	}{
		{400, `{"error":{"message":"model not found","type":"invalid_request_error"}}`, false, "model not found"},
		{401, "", false, "Unauthorized"},
		{404, "", false, "Not Found"},
		{408, "", true, "Request Timeout"},
		{429, `{"error":{"message":"slow down"}}`, true, "slow down"},
		{500, "", true, "Internal Server Error"},
		{503, "not json", true, "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := MapHTTPError("openai", makeResponse(tt.status, tt.body))

			if got := api.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v (err: %v)", got, tt.wantTransient, err)
			}

			var cause error
			var tbe *api.TransientBackendError
			var be *api.BackendError
			switch {
			case errors.As(err, &tbe):
				cause = tbe.Err
				if tbe.StatusCode != tt.status || tbe.Provider != "openai" {
					t.Errorf("unexpected fields: %+v", tbe)
				}
			case errors.As(err, &be):
				cause = be.Err
				if be.StatusCode != tt.status || be.Provider != "openai" {
					t.Errorf("unexpected fields: %+v", be)
				}
			default:
				t.Fatalf("unexpected error type %T", err)
			}
			if cause.Error() != tt.wantMessage {
				t.Errorf("message = %q, want %q", cause.Error(), tt.wantMessage)
			}
		})
	}
}
