package backend

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxToolTurns bounds the tool loop when no limit is configured.
const DefaultMaxToolTurns = 8

// DriverClient implements Client on top of a provider driver.
type DriverClient struct {
	meta      api.BackendMetadata
	driver    provider.Provider
	maxTurns  int
	maxTokens int
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ Client = (*DriverClient)(nil)

// DriverOption configures a DriverClient.
type DriverOption func(*DriverClient)

// WithMaxToolTurns bounds the number of generation rounds per call.
func WithMaxToolTurns(n int) DriverOption {
	return func(c *DriverClient) {
		if n > 0 {
			c.maxTurns = n
		}
	}
}

// WithMaxTokens caps the output tokens of every generation.
func WithMaxTokens(n int) DriverOption {
	return func(c *DriverClient) { c.maxTokens = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) DriverOption {
	return func(c *DriverClient) { c.logger = l }
}

// NewDriverClient binds driver to the model in meta.
func NewDriverClient(meta api.BackendMetadata, driver provider.Provider, opts ...DriverOption) *DriverClient {
	c := &DriverClient{
		meta:     meta,
		driver:   driver,
		maxTurns: DefaultMaxToolTurns,
		logger:   slog.Default(),
		tracer:   observability.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("backend", meta.ID, "model", meta.Model)
	return c
}

// Describe returns the backend metadata.
func (c *DriverClient) Describe() api.BackendMetadata { return c.meta }

func (c *DriverClient) request(history []provider.Message, o callOptions) *provider.Request {
	req := &provider.Request{
		Model:     c.meta.Model,
		Messages:  history,
		MaxTokens: c.maxTokens,
	}
	if o.tools != nil {
		req.Tools = toProviderTools(o.tools.Definitions())
	}
	return req
}

func (c *DriverClient) turnLimitError() error {
	return &api.BackendError{
		Provider: c.meta.ID,
		Err:      fmt.Errorf("tool loop exceeded %d turns", c.maxTurns),
	}
}

func (c *DriverClient) startSpan(ctx context.Context, mode string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "chat "+c.meta.Model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.system", c.meta.Type),
			attribute.String("gen_ai.request.model", c.meta.Model),
			attribute.String("parley.backend", c.meta.ID),
			attribute.String("parley.mode", mode),
		),
	)
}

func (c *DriverClient) observe(mode string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if api.IsTransient(err) {
			status = "transient_error"
		}
	}
	observability.BackendRequestsTotal.WithLabelValues(c.meta.ID, c.meta.Model, mode, status).Inc()
	observability.BackendLatency.WithLabelValues(c.meta.ID, c.meta.Model, mode).Observe(time.Since(start).Seconds())
}

// Send runs generation rounds until the model answers without tool calls.
func (c *DriverClient) Send(ctx context.Context, messages []api.Message, opts ...CallOption) (*api.Response, error) {
	o := applyOptions(opts)
	ctx, span := c.startSpan(ctx, "send")
	defer span.End()

	history := toProviderMessages(messages)

	for turn := 0; turn < c.maxTurns; turn++ {
		start := time.Now()
		res, err := c.driver.Complete(ctx, c.request(history, o))
		c.observe("send", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if len(res.ToolCalls) == 0 || o.tools == nil {
			model := res.Model
			if model == "" {
				model = c.meta.Model
			}
			return &api.Response{
				Message:      api.NewMessage(api.RoleAssistant, res.Content),
				ModelUsed:    model,
				ProviderUsed: c.meta.ID,
				ToolCalls:    []api.ToolCallRecord{},
			}, nil
		}

		c.logger.Debug("model requested tools", "turn", turn, "count", len(res.ToolCalls))
		history = append(history, assistantToolCallMessage(res.Content, res.ToolCalls))
		for _, call := range res.ToolCalls {
			output, _, err := c.runTool(ctx, o, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			history = append(history, toolResultMessage(call, output))
		}
	}

	err := c.turnLimitError()
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// runTool executes one call. Malformed arguments are reported back to the
// model as the tool output rather than failing the call.
func (c *DriverClient) runTool(ctx context.Context, o callOptions, call provider.ToolCall) (string, map[string]any, error) {
	args, err := provider.DecodeArguments(call.Arguments)
	if err != nil {
		c.logger.Warn("tool call with malformed arguments", "tool", call.Name, "error", err)
		return fmt.Sprintf("error: arguments are not a valid JSON object: %v", err), nil, nil
	}
	out, err := o.tools.Execute(ctx, call.Name, args)
	return out, args, err
}

// Stream yields text as it arrives. When the model requests tools, they
// run after the round's text has been delivered and the next round is
// streamed in the same sequence.
func (c *DriverClient) Stream(ctx context.Context, messages []api.Message, opts ...CallOption) iter.Seq2[Chunk, error] {
	o := applyOptions(opts)

	return func(yield func(Chunk, error) bool) {
		ctx, span := c.startSpan(ctx, "stream")
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(Chunk{}, err)
		}

		history := toProviderMessages(messages)

		for turn := 0; ; turn++ {
			if turn >= c.maxTurns {
				fail(c.turnLimitError())
				return
			}

			var (
				text  strings.Builder
				calls []provider.ToolCall
			)
			start := time.Now()
			for ev, err := range c.driver.Stream(ctx, c.request(history, o)) {
				if err != nil {
					c.observe("stream", start, err)
					fail(err)
					return
				}
				switch ev.Type {
				case provider.EventTextDelta:
					if ev.Delta == "" {
						continue
					}
					text.WriteString(ev.Delta)
					if !yield(Chunk{Kind: ChunkText, Text: ev.Delta}, nil) {
						return
					}
				case provider.EventToolCall:
					if ev.ToolCall != nil {
						calls = append(calls, *ev.ToolCall)
					}
				}
			}

			if ctx.Err() != nil {
				c.logger.Debug("stream cancelled", "turn", turn)
				return
			}
			c.observe("stream", start, nil)

			if len(calls) == 0 || o.tools == nil {
				return
			}

			history = append(history, assistantToolCallMessage(text.String(), calls))
			for _, call := range calls {
				args, _ := provider.DecodeArguments(call.Arguments)
				if !yield(Chunk{Kind: ChunkToolStart, ToolName: call.Name, Arguments: args}, nil) {
					return
				}

				toolStart := time.Now()
				output, args, err := c.runTool(ctx, o, call)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					fail(err)
					return
				}
				rec := api.ToolCallRecord{
					ToolName:      call.Name,
					Arguments:     args,
					Result:        output,
					ExecutionTime: time.Since(toolStart),
				}
				if !yield(Chunk{Kind: ChunkToolComplete, ToolName: call.Name, Record: rec}, nil) {
					return
				}
				history = append(history, toolResultMessage(call, output))
			}
		}
	}
}
