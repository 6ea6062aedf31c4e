package tools

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Interceptor wraps an Executor and captures a ToolCallRecord for every
// successful invocation. One Interceptor serves one orchestrated call.
type Interceptor struct {
	exec   Executor
	defs   map[string]Definition
	order  []Definition
	now    func() time.Time
	tracer trace.Tracer
	logger *slog.Logger

	mu            sync.Mutex
	records       []api.ToolCallRecord
	nonIdempotent bool
}

var _ Executor = (*Interceptor)(nil)

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithClock overrides the time source used to measure execution time.
func WithClock(now func() time.Time) InterceptorOption {
	return func(i *Interceptor) { i.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) InterceptorOption {
	return func(i *Interceptor) { i.logger = l }
}

// NewInterceptor decorates exec. A nil exec yields an interceptor without tools.
func NewInterceptor(exec Executor, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		exec:   exec,
		defs:   make(map[string]Definition),
		now:    time.Now,
		tracer: observability.Tracer(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if exec != nil {
		for _, d := range exec.Definitions() {
			if _, dup := i.defs[d.Name]; dup {
				continue
			}
			i.defs[d.Name] = d
			i.order = append(i.order, d)
		}
	}
	return i
}

// Definitions returns the definitions of the wrapped executor.
func (i *Interceptor) Definitions() []Definition {
	out := make([]Definition, len(i.order))
	copy(out, i.order)
	return out
}

// Execute invokes the named tool. On success the invocation is recorded;
// on failure a *api.ToolExecutionError carrying the tool's declared
// transience is returned and nothing is recorded.
func (i *Interceptor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	def, ok := i.defs[name]
	if !ok || i.exec == nil {
		return "", &api.ToolExecutionError{ToolName: name, Err: ErrUnknownTool}
	}

	ctx, span := i.tracer.Start(ctx, "tool "+name,
		trace.WithAttributes(
			attribute.String("gen_ai.tool.name", name),
			attribute.Bool("parley.tool.transient", def.Transient),
		),
	)
	defer span.End()

	start := i.now()
	result, err := i.exec.Execute(ctx, name, args)
	elapsed := i.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("tool execution failed",
			"tool", name,
			"transient", def.Transient,
			"error", err,
		)
		var te *api.ToolExecutionError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &api.ToolExecutionError{ToolName: name, IsTransient: def.Transient, Err: err}
	}

	i.mu.Lock()
	i.records = append(i.records, api.ToolCallRecord{
		ToolName:      name,
		Arguments:     args,
		Result:        result,
		ExecutionTime: elapsed,
	})
	if !def.Idempotent {
		i.nonIdempotent = true
	}
	i.mu.Unlock()

	i.logger.Debug("tool executed", "tool", name, "duration", elapsed)
	return result, nil
}

// Records returns a copy of the captured records in completion order.
func (i *Interceptor) Records() []api.ToolCallRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]api.ToolCallRecord, len(i.records))
	copy(out, i.records)
	return out
}

// NonIdempotentCompleted reports whether a tool without the idempotent
// guarantee has completed successfully through this interceptor.
func (i *Interceptor) NonIdempotentCompleted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.nonIdempotent
}
