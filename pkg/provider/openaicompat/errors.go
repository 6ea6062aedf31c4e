package openaicompat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/parley/pkg/provider"
)

// MapHTTPError converts an HTTP response with a non-2xx status code into a
// classified backend error, using the backend's error message when the body
// carries one.
func MapHTTPError(providerName string, resp *http.Response) error {
	message := ExtractErrorMessage(resp.Body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return provider.StatusError(providerName, resp.StatusCode, errors.New(message))
}

// ExtractErrorMessage tries to parse the response body as a ChatErrorResponse
// and returns the error message if found.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}

	return ""
}
