package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
}

// StatusError classifies a backend HTTP failure. Rate limits, timeouts and
// 5xx responses become *api.TransientBackendError; everything else becomes
// *api.BackendError.
func StatusError(providerName string, status int, cause error) error {
	if IsTransientStatus(status) {
		return &api.TransientBackendError{Provider: providerName, StatusCode: status, Err: cause}
	}
	return &api.BackendError{Provider: providerName, StatusCode: status, Err: cause}
}

// NetworkError classifies a failure that never produced an HTTP status
// (connection refused, timeout, DNS failure) as transient. A response body
// that could not be decoded is a permanent *api.BackendError, since the
// same backend will answer the same way again. Context cancellation is
// passed through unchanged.
func NetworkError(ctx context.Context, providerName string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &api.BackendError{Provider: providerName, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return &api.TransientBackendError{Provider: providerName, Err: fmt.Errorf("connection error: %w", err)}
}
