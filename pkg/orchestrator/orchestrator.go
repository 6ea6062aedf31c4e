package orchestrator

import (
	"log/slog"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/backend"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/retry"
	"github.com/rhuss/parley/pkg/template"
	"github.com/rhuss/parley/pkg/tools"
	"go.opentelemetry.io/otel/trace"
)

// Backends resolves backend clients. *backend.Registry implements it.
type Backends interface {
	Resolve(providerName, modelID string) (backend.Client, error)
	Backends() []api.BackendInfo
}

// Templates renders prompt templates. *template.Engine implements it.
type Templates interface {
	Render(name string, vars map[string]any) (string, error)
	List() ([]template.Info, error)
}

// Orchestrator is safe for concurrent use. Per-call state (the tool
// interceptor and its records) never outlives one operation.
type Orchestrator struct {
	backends   Backends
	templates  Templates
	tools      tools.Executor
	retry      *retry.Executor
	validation api.ValidationConfig
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTools offers exec's tools to every call. Without it backends
// generate without tools.
func WithTools(exec tools.Executor) Option {
	return func(o *Orchestrator) { o.tools = exec }
}

// WithRetry replaces the retry executor.
func WithRetry(e *retry.Executor) Option {
	return func(o *Orchestrator) { o.retry = e }
}

// WithValidation sets the request validation limits.
func WithValidation(cfg api.ValidationConfig) Option {
	return func(o *Orchestrator) { o.validation = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. templates may be nil when template
// execution is not offered.
func New(backends Backends, templates Templates, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backends:   backends,
		templates:  templates,
		validation: api.DefaultValidationConfig(),
		logger:     slog.Default(),
		tracer:     observability.Tracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry == nil {
		o.retry = retry.New(retry.Policy{}, retry.WithLogger(o.logger))
	}
	return o
}

// Backends describes every configured backend.
func (o *Orchestrator) Backends() []api.BackendInfo {
	return o.backends.Backends()
}

// Describe returns the metadata of the named backend as resolved with its
// default model.
func (o *Orchestrator) Describe(providerName string) (api.BackendMetadata, error) {
	c, err := o.backends.Resolve(providerName, "")
	if err != nil {
		return api.BackendMetadata{}, err
	}
	return c.Describe(), nil
}

// ListAvailableTemplates lists every resolvable template.
func (o *Orchestrator) ListAvailableTemplates() ([]template.Info, error) {
	if o.templates == nil {
		return []template.Info{}, nil
	}
	return o.templates.List()
}

// Tools lists the tools offered to backends.
func (o *Orchestrator) Tools() []tools.Definition {
	if o.tools == nil {
		return []tools.Definition{}
	}
	return o.tools.Definitions()
}

// prepare validates messages and resolves the target backend. Errors are
// request-time failures that are never retried.
func (o *Orchestrator) prepare(req api.ChatRequest) (backend.Client, []api.Message, error) {
	if err := api.ValidateMessages(req.Messages, o.validation); err != nil {
		return nil, nil, err
	}
	client, err := o.backends.Resolve(req.Provider, req.Model)
	if err != nil {
		return nil, nil, err
	}
	return client, api.NormalizeMessages(req.Messages), nil
}

func (o *Orchestrator) interceptor() *tools.Interceptor {
	if o.tools == nil {
		return nil
	}
	return tools.NewInterceptor(o.tools, tools.WithLogger(o.logger))
}

func callOptions(ic *tools.Interceptor) []backend.CallOption {
	if ic == nil {
		return nil
	}
	return []backend.CallOption{backend.WithTools(ic)}
}
