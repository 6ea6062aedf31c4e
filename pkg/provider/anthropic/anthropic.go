// Package anthropic implements provider.Provider on top of the official
// Anthropic Go SDK (Messages API).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
)

const (
	// DefaultBaseURL is used when the backend configuration leaves the endpoint empty.
	DefaultBaseURL = "https://api.anthropic.com"

	// defaultMaxTokens is sent when the request leaves MaxTokens unset;
	// the Messages API requires a value.
	defaultMaxTokens = 1024
)

// Config holds the settings for an Anthropic provider.
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Provider talks to the Anthropic Messages API.
type Provider struct {
	name    string
	client  anthropic.Client
	timeout time.Duration
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Anthropic provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, &api.InvalidCredentialsError{Provider: cfg.Name}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Provider{
		name:    cfg.Name,
		client:  anthropic.NewClient(opts...),
		timeout: cfg.Timeout,
	}, nil
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Complete performs a non-streaming Messages call.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, &api.BackendError{Provider: p.name, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.client.Messages.New(callCtx, params)
	if err != nil {
		return nil, p.mapError(ctx, err)
	}
	return translateMessage(msg), nil
}

// Stream performs a streaming Messages call. Text deltas are yielded as
// they arrive; tool_use blocks are taken from the accumulated message once
// the stream ends. An event that cannot be decoded or accumulated is
// logged and skipped.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Event, error] {
	return func(yield func(provider.Event, error) bool) {
		params, err := buildParams(req)
		if err != nil {
			yield(provider.Event{}, &api.BackendError{Provider: p.name, Err: err})
			return
		}

		var raw *http.Response
		err = p.client.Post(ctx, "v1/messages", params, &raw, option.WithJSONSet("stream", true))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			yield(provider.Event{}, p.mapError(ctx, err))
			return
		}
		dec := ssestream.NewDecoder(raw)
		defer dec.Close()

		msg := anthropic.Message{}
		for dec.Next() {
			ev := dec.Event()
			switch ev.Type {
			case "message_start", "message_delta", "message_stop",
				"content_block_start", "content_block_delta", "content_block_stop":
			case "error":
				yield(provider.Event{}, &api.TransientBackendError{
					Provider: p.name,
					Err:      fmt.Errorf("error while streaming: %s", bytes.TrimSpace(ev.Data)),
				})
				return
			default:
				// ping and event types this client does not know
				continue
			}

			var event anthropic.MessageStreamEventUnion
			if err := json.Unmarshal(ev.Data, &event); err != nil {
				p.skipEvent(ev, err)
				continue
			}
			if err := msg.Accumulate(event); err != nil {
				p.skipEvent(ev, err)
				continue
			}

			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					if !yield(provider.Event{Type: provider.EventTextDelta, Delta: text.Text}, nil) {
						return
					}
				}
			}
		}

		if err := dec.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			yield(provider.Event{}, p.mapError(ctx, err))
			return
		}
		if ctx.Err() != nil {
			return
		}

		res := translateMessage(&msg)
		for i := range res.ToolCalls {
			if !yield(provider.Event{Type: provider.EventToolCall, ToolCall: &res.ToolCalls[i]}, nil) {
				return
			}
		}
		yield(provider.Event{Type: provider.EventDone, FinishReason: res.FinishReason}, nil)
	}
}

func (p *Provider) skipEvent(ev ssestream.Event, err error) {
	data := string(ev.Data)
	if len(data) > 200 {
		data = data[:200] + "..."
	}
	slog.Warn("skipping malformed stream event",
		"provider", p.name,
		"event", ev.Type,
		"error", err.Error(),
		"data", data,
	)
}

// Close is a no-op; the SDK client holds no resources of its own.
func (p *Provider) Close() error { return nil }

func (p *Provider) mapError(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return provider.StatusError(p.name, apiErr.StatusCode, err)
	}
	return provider.NetworkError(ctx, p.name, err)
}

func translateMessage(msg *anthropic.Message) *provider.Result {
	res := &provider.Result{
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			res.Content += block.Text
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			res.ToolCalls = append(res.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return res
}

func buildParams(req *provider.Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgs, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessages maps neutral messages to Messages API params. System
// messages move to the separate system parameter and consecutive tool
// results are merged into one user turn, as the API requires.
func convertMessages(msgs []provider.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	lastWasToolResult := false

	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue

		case provider.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))

		case provider.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						return nil, nil, fmt.Errorf("tool call %s: invalid arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case provider.RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if lastWasToolResult {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
			} else {
				out = append(out, anthropic.NewUserMessage(block))
			}
			lastWasToolResult = true
			continue
		}
		lastWasToolResult = false
	}

	return out, system, nil
}

type inputSchema struct {
	Properties any      `json:"properties"`
	Required   []string `json:"required"`
}

func convertTools(defs []provider.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		var schema inputSchema
		if len(d.Parameters) > 0 {
			if err := json.Unmarshal(d.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", d.Name, err)
			}
		}
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}

		param := anthropic.ToolInputSchemaParam{Properties: schema.Properties}
		if len(schema.Required) > 0 {
			param.Required = schema.Required
		}

		out[i] = anthropic.ToolUnionParamOfTool(param, d.Name)
		if d.Description != "" {
			out[i].OfTool.Description = anthropic.String(d.Description)
		}
	}
	return out, nil
}
