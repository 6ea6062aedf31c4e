package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// HTTPStatus maps an error type onto an HTTP status code.
func HTTPStatus(apiErr *api.APIError) int {
	switch apiErr.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeBackendError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes apiErr in the JSON error envelope with status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteError converts err with api.ToAPIError and writes it with the
// matching status.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := api.ToAPIError(err)
	WriteErrorResponse(w, apiErr, HTTPStatus(apiErr))
}
