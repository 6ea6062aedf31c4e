// Package openai implements provider.Provider on top of the official
// openai-go SDK (Chat Completions API). Retries are disabled in the SDK
// because the orchestrator owns retry policy.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
)

// DefaultBaseURL is used when the backend configuration leaves the endpoint empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config holds the settings for an OpenAI provider.
type Config struct {
	// Name identifies the backend in errors and logs.
	Name string

	BaseURL string
	APIKey  string

	// Timeout bounds non-streaming requests. Zero means 120s.
	Timeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Provider talks to OpenAI (or an API-identical service) through openai-go.
type Provider struct {
	name    string
	client  oai.Client
	timeout time.Duration
}

var _ provider.Provider = (*Provider)(nil)

// New creates an OpenAI provider.
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
		cfg.Name = "openai"
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
		client:  oai.NewClient(opts...),
		timeout: cfg.Timeout,
	}, nil
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Complete performs a non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, &api.BackendError{Provider: p.name, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return nil, p.mapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &api.BackendError{Provider: p.name, Err: errors.New("backend returned no choices")}
	}

	choice := resp.Choices[0]
	res := &provider.Result{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != "function" {
			continue
		}
		fn := tc.AsFunction()
		res.ToolCalls = append(res.ToolCalls, provider.ToolCall{
			ID:        fn.ID,
			Name:      fn.Function.Name,
			Arguments: fn.Function.Arguments,
		})
	}
	return res, nil
}

// Stream performs a streaming chat completion. Events are decoded here
// rather than by the SDK stream so that an undecodable chunk is logged and
// skipped instead of ending the stream. Tool call fragments are assembled
// by index and emitted after the last chunk.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) iter.Seq2[provider.Event, error] {
	return func(yield func(provider.Event, error) bool) {
		params, err := buildParams(req)
		if err != nil {
			yield(provider.Event{}, &api.BackendError{Provider: p.name, Err: err})
			return
		}

		var raw *http.Response
		err = p.client.Post(ctx, "chat/completions", params, &raw, option.WithJSONSet("stream", true))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			yield(provider.Event{}, p.mapError(ctx, err))
			return
		}
		dec := ssestream.NewDecoder(raw)
		defer dec.Close()

		calls := map[int]*provider.ToolCall{}
		var finishReason string

		for dec.Next() {
			data := bytes.TrimSpace(dec.Event().Data)
			if len(data) == 0 {
				continue
			}
			if bytes.Equal(data, []byte("[DONE]")) {
				break
			}

			var envelope struct {
				Error json.RawMessage `json:"error"`
			}
			if err := json.Unmarshal(data, &envelope); err != nil {
				p.skipChunk(data, err)
				continue
			}
			if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
				yield(provider.Event{}, &api.TransientBackendError{
					Provider: p.name,
					Err:      fmt.Errorf("error while streaming: %s", envelope.Error),
				})
				return
			}
			var chunk oai.ChatCompletionChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				p.skipChunk(data, err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !yield(provider.Event{Type: provider.EventTextDelta, Delta: choice.Delta.Content}, nil) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				call, ok := calls[idx]
				if !ok {
					call = &provider.ToolCall{}
					calls[idx] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
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

		for _, idx := range slices.Sorted(maps.Keys(calls)) {
			if !yield(provider.Event{Type: provider.EventToolCall, ToolCall: calls[idx]}, nil) {
				return
			}
		}

		yield(provider.Event{Type: provider.EventDone, FinishReason: finishReason}, nil)
	}
}

func (p *Provider) skipChunk(data []byte, err error) {
	slog.Warn("skipping malformed SSE chunk",
		"provider", p.name,
		"error", err.Error(),
		"data", truncate(string(data), 200),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close is a no-op; the SDK client holds no resources of its own.
func (p *Provider) Close() error { return nil }

func (p *Provider) mapError(ctx context.Context, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return provider.StatusError(p.name, apiErr.StatusCode, err)
	}
	return provider.NetworkError(ctx, p.name, err)
}

func buildParams(req *provider.Request) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
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

func convertMessages(msgs []provider.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, oai.ChatCompletionMessageParamUnion{
				OfSystem: &oai.ChatCompletionSystemMessageParam{
					Content: oai.ChatCompletionSystemMessageParamContentUnion{
						OfString: oai.String(m.Content),
					},
				},
			})
		case provider.RoleUser:
			out = append(out, oai.ChatCompletionMessageParamUnion{
				OfUser: &oai.ChatCompletionUserMessageParam{
					Content: oai.ChatCompletionUserMessageParamContentUnion{
						OfString: oai.String(m.Content),
					},
				},
			})
		case provider.RoleAssistant:
			asst := &oai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content = oai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: oai.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &oai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: oai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		case provider.RoleTool:
			out = append(out, oai.ChatCompletionMessageParamUnion{
				OfTool: &oai.ChatCompletionToolMessageParam{
					ToolCallID: m.ToolCallID,
					Content: oai.ChatCompletionToolMessageParamContentUnion{
						OfString: oai.String(m.Content),
					},
				},
			})
		}
	}
	return out
}

func convertTools(defs []provider.ToolDefinition) ([]oai.ChatCompletionToolUnionParam, error) {
	out := make([]oai.ChatCompletionToolUnionParam, len(defs))
	for i, d := range defs {
		params := shared.FunctionParameters{"type": "object", "properties": map[string]any{}}
		if len(d.Parameters) > 0 {
			params = shared.FunctionParameters{}
			if err := json.Unmarshal(d.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", d.Name, err)
			}
		}
		out[i] = oai.ChatCompletionToolUnionParam{
			OfFunction: &oai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        d.Name,
					Description: oai.String(d.Description),
					Parameters:  params,
				},
			},
		}
	}
	return out, nil
}
