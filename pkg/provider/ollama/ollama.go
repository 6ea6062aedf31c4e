// Package ollama implements provider.Provider for a local or remote Ollama
// server using the upstream api client.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
)

// DefaultBaseURL is used when the backend configuration leaves the endpoint empty.
const DefaultBaseURL = "http://localhost:11434"

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 8 << 20

// errStopped ends the line callback when the consumer stops iterating.
var errStopped = errors.New("consumer stopped")

// Config holds the settings for an Ollama provider. Ollama does not use API
// keys, so any configured key is ignored.
type Config struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Provider talks to Ollama's /api/chat endpoint.
type Provider struct {
	name    string
	base    *url.URL
	client  *ollamaapi.Client
	http    *http.Client
	timeout time.Duration
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Ollama provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "ollama"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &api.ConfigurationError{Err: fmt.Errorf("invalid Ollama URL: %w", err)}
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Provider{
		name:    cfg.Name,
		base:    base,
		client:  ollamaapi.NewClient(base, hc),
		http:    hc,
		timeout: cfg.Timeout,
	}, nil
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Complete performs a non-streaming chat call.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	chatReq, err := buildRequest(req, false)
	if err != nil {
		return nil, &api.BackendError{Provider: p.name, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res := &provider.Result{Model: req.Model}
	err = p.client.Chat(callCtx, chatReq, func(resp ollamaapi.ChatResponse) error {
		res.Content += resp.Message.Content
		calls, err := translateToolCalls(resp.Message.ToolCalls)
		if err != nil {
			return err
		}
		res.ToolCalls = append(res.ToolCalls, calls...)
		if resp.Model != "" {
			res.Model = resp.Model
		}
		if resp.Done {
			res.FinishReason = resp.DoneReason
		}
		return nil
	})
	if err != nil {
		return nil, p.mapError(ctx, err)
	}
	return res, nil
}

// Stream performs a streaming chat call. The NDJSON response is read
// here rather than through the api client so that a line that does not
// decode is logged and skipped instead of ending the stream. Ollama
// delivers complete tool calls inside a single chunk; they are held back
// until the stream ends so that every adapter reports tool calls at the
// same point.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Event, error] {
	return func(yield func(provider.Event, error) bool) {
		chatReq, err := buildRequest(req, true)
		if err != nil {
			yield(provider.Event{}, &api.BackendError{Provider: p.name, Err: err})
			return
		}

		var calls []provider.ToolCall
		var finishReason string

		err = p.streamChat(ctx, chatReq, func(resp ollamaapi.ChatResponse) error {
			if resp.Message.Content != "" {
				if !yield(provider.Event{Type: provider.EventTextDelta, Delta: resp.Message.Content}, nil) {
					return errStopped
				}
			}
			tc, err := translateToolCalls(resp.Message.ToolCalls)
			if err != nil {
				return err
			}
			calls = append(calls, tc...)
			if resp.Done {
				finishReason = resp.DoneReason
			}
			return nil
		})
		if errors.Is(err, errStopped) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			yield(provider.Event{}, p.mapError(ctx, err))
			return
		}
		if ctx.Err() != nil {
			return
		}

		for i := range calls {
			if !yield(provider.Event{Type: provider.EventToolCall, ToolCall: &calls[i]}, nil) {
				return
			}
		}
		yield(provider.Event{Type: provider.EventDone, FinishReason: finishReason}, nil)
	}
}

// streamChat posts req to /api/chat and calls fn for every decoded line.
// Error statuses come back as the api package's error types so mapError
// treats both paths alike.
func (p *Provider) streamChat(ctx context.Context, req *ollamaapi.ChatRequest, fn func(ollamaapi.ChatResponse) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base.JoinPath("/api/chat").String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return ollamaapi.AuthorizationError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return ollamaapi.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, ErrorMessage: e.Error}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var envelope struct {
			Error string `json:"error"`
		}
		var chunk ollamaapi.ChatResponse
		err := json.Unmarshal(line, &envelope)
		if err == nil && envelope.Error != "" {
			return &api.TransientBackendError{Provider: p.name, Err: fmt.Errorf("error while streaming: %s", envelope.Error)}
		}
		if err == nil {
			err = json.Unmarshal(line, &chunk)
		}
		if err != nil {
			text := string(line)
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			slog.Warn("skipping malformed NDJSON line",
				"provider", p.name,
				"error", err.Error(),
				"data", text,
			)
			continue
		}

		if err := fn(chunk); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}

func (p *Provider) mapError(ctx context.Context, err error) error {
	var be *api.BackendError
	var tbe *api.TransientBackendError
	if errors.As(err, &be) || errors.As(err, &tbe) {
		return err
	}
	var statusErr ollamaapi.StatusError
	if errors.As(err, &statusErr) {
		return provider.StatusError(p.name, statusErr.StatusCode, err)
	}
	var authErr ollamaapi.AuthorizationError
	if errors.As(err, &authErr) {
		return provider.StatusError(p.name, authErr.StatusCode, err)
	}
	return provider.NetworkError(ctx, p.name, err)
}

func buildRequest(req *provider.Request, stream bool) (*ollamaapi.ChatRequest, error) {
	chatReq := &ollamaapi.ChatRequest{
		Model:  req.Model,
		Stream: &stream,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	for _, m := range req.Messages {
		msg := ollamaapi.Message{
			Role:    m.Role,
			Content: m.Content,
		}
		for _, tc := range m.ToolCalls {
			args, err := provider.DecodeArguments(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("tool call %s: invalid arguments: %w", tc.ID, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaapi.ToolCall{
				Function: ollamaapi.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		chatReq.Messages = append(chatReq.Messages, msg)
	}

	for _, d := range req.Tools {
		tool := ollamaapi.Tool{
			Type: "function",
			Function: ollamaapi.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
			},
		}
		if len(d.Parameters) > 0 {
			if err := json.Unmarshal(d.Parameters, &tool.Function.Parameters); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", d.Name, err)
			}
		}
		if tool.Function.Parameters.Type == "" {
			tool.Function.Parameters.Type = "object"
		}
		chatReq.Tools = append(chatReq.Tools, tool)
	}

	return chatReq, nil
}

// translateToolCalls converts Ollama tool calls, which carry decoded
// arguments and no identifiers, into neutral calls with fresh IDs.
func translateToolCalls(calls []ollamaapi.ToolCall) ([]provider.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]provider.ToolCall, 0, len(calls))
	for _, c := range calls {
		args, err := json.Marshal(c.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments of %s: %w", c.Function.Name, err)
		}
		out = append(out, provider.ToolCall{
			ID:        api.NewToolCallID(),
			Name:      c.Function.Name,
			Arguments: string(args),
		})
	}
	return out, nil
}
