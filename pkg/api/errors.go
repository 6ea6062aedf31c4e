package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeAuthentication  ErrorType = "authentication_error"
	ErrorTypeBackendError    ErrorType = "backend_error"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// APIError is the structured error returned to HTTP clients.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// ConfigurationError reports invalid or missing settings detected at
// startup. It is always fatal.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// UnknownProviderError is returned when a request names a backend that is
// not configured.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Provider)
}

// InvalidCredentialsError is returned when a backend has no usable API key.
type InvalidCredentialsError struct {
	Provider string
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("provider %q has no API key configured", e.Provider)
}

// ArgumentError reports an invalid argument. It is never retried.
type ArgumentError struct {
	Param   string
	Message string
}

func (e *ArgumentError) Error() string {
	if e.Param == "" {
		return "invalid argument: " + e.Message
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Param, e.Message)
}

// TransientBackendError is a backend failure expected to succeed on retry:
// network errors, timeouts, rate limits and 5xx responses.
type TransientBackendError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientBackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s transient failure (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s transient failure: %v", e.Provider, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// BackendError is a permanent backend rejection, for example a 400 for an
// unknown model.
type BackendError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s error (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s error: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a failed tool invocation. IsTransient comes from
// the tool's declared classification, never from the error value.
type ToolExecutionError struct {
	ToolName    string
	IsTransient bool
	Err         error
}

func (e *ToolExecutionError) Error() string {
	kind := "permanent"
	if e.IsTransient {
		kind = "transient"
	}
	return fmt.Sprintf("tool %s failed (%s): %v", e.ToolName, kind, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// TemplateNotFoundError is returned when no template source knows a name.
type TemplateNotFoundError struct {
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

// MissingVariablesError lists every variable a template requires but the
// caller did not supply.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return "missing template variables: " + strings.Join(e.Names, ", ")
}

// IsTransient reports whether err is worth retrying. A tool failure keeps
// the tool's declared classification whatever error it wraps.
func IsTransient(err error) bool {
	var tee *ToolExecutionError
	if errors.As(err, &tee) {
		return tee.IsTransient
	}
	var tbe *TransientBackendError
	return errors.As(err, &tbe)
}

// ToAPIError converts any error into the structured HTTP error envelope.
// An *APIError is returned unchanged; the taxonomy above maps onto error
// types and codes; everything else is a server error.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var (
		upe  *UnknownProviderError
		ice  *InvalidCredentialsError
		ae   *ArgumentError
		tnf  *TemplateNotFoundError
		mve  *MissingVariablesError
		tbe  *TransientBackendError
		be   *BackendError
		tee  *ToolExecutionError
		cfgE *ConfigurationError
	)
	switch {
	case errors.As(err, &ae):
		return &APIError{Type: ErrorTypeInvalidRequest, Code: "invalid_argument", Param: ae.Param, Message: ae.Message}
	case errors.As(err, &mve):
		return &APIError{Type: ErrorTypeInvalidRequest, Code: "missing_variables", Param: "variables", Message: err.Error()}
	case errors.As(err, &upe):
		return &APIError{Type: ErrorTypeNotFound, Code: "unknown_provider", Param: "provider", Message: err.Error()}
	case errors.As(err, &tnf):
		return &APIError{Type: ErrorTypeNotFound, Code: "template_not_found", Param: "name", Message: err.Error()}
	case errors.As(err, &ice):
		return &APIError{Type: ErrorTypeAuthentication, Code: "invalid_credentials", Message: err.Error()}
	case errors.As(err, &tee):
		return &APIError{Type: ErrorTypeServerError, Code: "tool_execution_error", Message: err.Error()}
	case errors.As(err, &tbe):
		return &APIError{Type: ErrorTypeBackendError, Code: "transient_backend_error", Message: err.Error()}
	case errors.As(err, &be):
		return &APIError{Type: ErrorTypeBackendError, Code: "backend_error", Message: err.Error()}
	case errors.As(err, &cfgE):
		return &APIError{Type: ErrorTypeServerError, Code: "configuration_error", Message: err.Error()}
	}
	return &APIError{Type: ErrorTypeServerError, Message: err.Error()}
}
