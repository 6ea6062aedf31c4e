package orchestrator

import (
	"context"
	"iter"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/backend"
	"github.com/rhuss/parley/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenStream validates the request and resolves the backend, returning
// those errors synchronously so a transport can reject the request before
// committing to a stream. The returned sequence is lazy: nothing is sent
// to the backend until it is iterated.
//
// The sequence forwards backend output in arrival order and ends with
// exactly one update that has IsFinal set: an empty content update on
// success or an error update on failure. Failures are never retried, so
// content already delivered is never repeated. Cancelling ctx ends the
// sequence without a final update.
func (o *Orchestrator) OpenStream(ctx context.Context, req api.ChatRequest) (iter.Seq[api.StreamingUpdate], error) {
	client, msgs, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	return o.stream(ctx, client, msgs), nil
}

// Stream is OpenStream for callers without a separate error channel:
// request errors become the single final error update.
func (o *Orchestrator) Stream(ctx context.Context, req api.ChatRequest) iter.Seq[api.StreamingUpdate] {
	seq, err := o.OpenStream(ctx, req)
	if err != nil {
		return func(yield func(api.StreamingUpdate) bool) {
			yield(errorUpdate(err))
		}
	}
	return seq
}

func (o *Orchestrator) stream(ctx context.Context, client backend.Client, msgs []api.Message) iter.Seq[api.StreamingUpdate] {
	return func(yield func(api.StreamingUpdate) bool) {
		meta := client.Describe()
		ctx, span := o.tracer.Start(ctx, "orchestrate stream",
			trace.WithAttributes(
				attribute.String("parley.backend", meta.ID),
				attribute.String("gen_ai.request.model", meta.Model),
			),
		)
		defer span.End()
		log := o.logger.With("backend", meta.ID, "model", meta.Model)

		emit := func(u api.StreamingUpdate) bool {
			observability.StreamUpdatesTotal.WithLabelValues(string(u.Type)).Inc()
			return yield(u)
		}

		ic := o.interceptor()
		for chunk, err := range client.Stream(ctx, msgs, callOptions(ic)...) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("stream failed", "error", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				emit(errorUpdate(err))
				return
			}

			var u api.StreamingUpdate
			switch chunk.Kind {
			case backend.ChunkText:
				u = api.ContentUpdate(chunk.Text)
			case backend.ChunkToolStart:
				u = api.ToolStartUpdate(chunk.ToolName, chunk.Arguments)
			case backend.ChunkToolComplete:
				u = api.ToolCompleteUpdate(chunk.Record)
			default:
				continue
			}
			if !emit(u) {
				return
			}
		}

		if ctx.Err() != nil {
			log.Debug("stream cancelled")
			return
		}
		emit(api.FinalUpdate())
	}
}

// errorUpdate builds the terminal error update for err.
func errorUpdate(err error) api.StreamingUpdate {
	apiErr := api.ToAPIError(err)
	meta := map[string]any{
		"type":      string(apiErr.Type),
		"transient": api.IsTransient(err),
	}
	if apiErr.Code != "" {
		meta["code"] = apiErr.Code
	}
	return api.ErrorUpdate(apiErr.Message, meta)
}
