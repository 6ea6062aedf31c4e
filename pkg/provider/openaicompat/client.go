package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
)

// Client performs HTTP requests against an OpenAI-compatible Chat
// Completions backend. It implements provider.Provider.
type Client struct {
	name       string
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ provider.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. A client without its own
// Timeout gets the constructor's timeout; either way it applies to
// non-streaming requests only.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new Client. baseURL includes the API version prefix,
// e.g. "http://localhost:8000/v1".
func NewClient(name, baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	// Normalize: remove trailing slash from base URL.
	baseURL = strings.TrimRight(baseURL, "/")

	if timeout == 0 {
		timeout = 120 * time.Second
	}

	c := &Client{
		name: name,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Timeout == 0 {
		hc := *c.httpClient
		hc.Timeout = timeout
		c.httpClient = &hc
	}
	return c
}

// Name returns the adapter identifier.
func (c *Client) Name() string { return c.name }

// Complete performs non-streaming inference against the Chat Completions endpoint.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.NetworkError(ctx, c.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(c.name, httpResp)
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, &api.TransientBackendError{Provider: c.name, Err: fmt.Errorf("parsing backend response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &api.BackendError{Provider: c.name, Err: errors.New("backend returned no choices")}
	}

	return TranslateResponse(&chatResp), nil
}

// Stream performs streaming inference against the Chat Completions endpoint.
//
// The HTTP client timeout is not applied for streaming requests because a
// stream can legitimately last longer than any fixed timeout. Lifecycle
// control relies on context cancellation instead.
func (c *Client) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Event, error] {
	return func(yield func(provider.Event, error) bool) {
		httpReq, err := c.newRequest(ctx, req, true)
		if err != nil {
			yield(provider.Event{}, err)
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		streamClient := &http.Client{
			Transport: c.httpClient.Transport,
		}

		httpResp, err := streamClient.Do(httpReq)
		if err != nil {
			yield(provider.Event{}, provider.NetworkError(ctx, c.name, err))
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			yield(provider.Event{}, MapHTTPError(c.name, httpResp))
			return
		}

		ParseSSEStream(ctx, c.name, httpResp.Body, yield)
	}
}

func (c *Client) newRequest(ctx context.Context, req *provider.Request, stream bool) (*http.Request, error) {
	body, err := json.Marshal(TranslateRequest(req, stream))
	if err != nil {
		return nil, &api.BackendError{Provider: c.name, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &api.BackendError{Provider: c.name, Err: fmt.Errorf("creating HTTP request: %w", err)}
	}

	debug.Log("backends", "chat completions request", "backend", c.name, "model", req.Model, "stream", stream, "messages", len(req.Messages), "tools", len(req.Tools))
	debug.Raw("backends", string(body))

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
