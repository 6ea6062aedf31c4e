package orchestrator

import (
	"context"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/backend"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fallback identity reported on responses produced after a failed call.
const (
	FallbackProvider = "system"
	FallbackModel    = "fallback"
	FallbackMessage  = "I'm sorry, I wasn't able to complete your request right now. Please try again in a moment."
)

// FallbackResponse is the deterministic substitute for a failed send.
func FallbackResponse() *api.Response {
	return &api.Response{
		Message:      api.NewMessage(api.RoleAssistant, FallbackMessage),
		ModelUsed:    FallbackModel,
		ProviderUsed: FallbackProvider,
		ToolCalls:    []api.ToolCallRecord{},
	}
}

// Send performs a non-streaming orchestrated call. Validation and
// resolution errors are returned as is. Backend and tool failures are
// retried while transient; once retries are exhausted or the failure is
// permanent, the fallback response is returned with a nil error. The only
// other error is the context's, when ctx is cancelled.
func (o *Orchestrator) Send(ctx context.Context, req api.ChatRequest) (*api.Response, error) {
	client, msgs, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	return o.send(ctx, "send", client, msgs)
}

func (o *Orchestrator) send(ctx context.Context, op string, client backend.Client, msgs []api.Message) (*api.Response, error) {
	meta := client.Describe()
	ctx, span := o.tracer.Start(ctx, "orchestrate "+op,
		trace.WithAttributes(
			attribute.String("parley.backend", meta.ID),
			attribute.String("gen_ai.request.model", meta.Model),
		),
	)
	defer span.End()

	attempt := func(ctx context.Context, n int) (*api.Response, error) {
		// A fresh interceptor per attempt keeps the records of failed
		// attempts out of the response.
		ic := o.interceptor()
		debug.Log("orchestrator", "attempt", "correlation_id", retry.CorrelationID(ctx), "op", op, "attempt", n, "backend", meta.ID)
		resp, err := client.Send(ctx, msgs, callOptions(ic)...)
		if err != nil {
			if ic != nil && ic.NonIdempotentCompleted() && api.IsTransient(err) {
				o.logger.Warn("not retrying after a non-idempotent tool completed",
					"correlation_id", retry.CorrelationID(ctx),
					"attempt", n,
					"error", err,
				)
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		if ic != nil {
			resp.ToolCalls = ic.Records()
		}
		if resp.ToolCalls == nil {
			resp.ToolCalls = []api.ToolCallRecord{}
		}
		return resp, nil
	}

	fallback := func(ctx context.Context, err error) *api.Response {
		reason := "permanent_error"
		if api.IsTransient(err) {
			reason = "transient_error"
		}
		observability.FallbacksTotal.WithLabelValues(reason).Inc()
		o.logger.Warn("returning fallback response",
			"correlation_id", retry.CorrelationID(ctx),
			"backend", meta.ID,
			"reason", reason,
			"error", err,
		)
		span.SetAttributes(attribute.Bool("parley.fallback", true))
		return FallbackResponse()
	}

	resp, err := retry.Do(ctx, o.retry, attempt, fallback)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("parley.tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// ExecuteTemplate renders the named template and submits the result as a
// single user turn through the same retry-wrapped call as Send. Template
// errors are returned before any backend is contacted.
func (o *Orchestrator) ExecuteTemplate(ctx context.Context, name string, req api.TemplateRequest) (*api.Response, error) {
	if o.templates == nil {
		return nil, &api.TemplateNotFoundError{Name: name}
	}
	text, err := o.templates.Render(name, req.Variables)
	if err != nil {
		return nil, err
	}
	client, msgs, err := o.prepare(api.ChatRequest{
		Provider: req.Provider,
		Model:    req.Model,
		Messages: []api.Message{{Role: api.RoleUser, Content: text}},
	})
	if err != nil {
		return nil, err
	}
	o.logger.Debug("executing template", "template", name, "backend", client.Describe().ID)
	return o.send(ctx, "template "+name, client, msgs)
}
