package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/tools"
)

type entry struct {
	provider string
	tool     tools.Tool
}

// Registry aggregates Providers and implements tools.Executor. It routes
// tool calls to the owning tool, records metrics and recovers from panics.
type Registry struct {
	mu sync.RWMutex

	// providers stores registered providers in insertion order.
	providers []Provider

	// order keeps tool names in registration order.
	order []string

	byName map[string]entry
}

// Ensure Registry implements tools.Executor at compile time.
var _ tools.Executor = (*Registry)(nil)

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]entry)}
}

// Register adds a provider. Tool names are resolved first-come,
// first-served: if two providers supply a tool with the same name, the
// first registered provider wins and a warning is logged.
//
// Any provider-specific Prometheus collectors are also registered.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	list := p.Tools()
	for _, t := range list {
		name := t.Definition().Name
		if existing, ok := r.byName[name]; ok {
			slog.Warn("tool name conflict, keeping first provider",
				"tool", name,
				"winner", existing.provider,
				"loser", p.Name(),
			)
			continue
		}
		r.byName[name] = entry{provider: p.Name(), tool: t}
		r.order = append(r.order, name)
	}

	for _, c := range p.Collectors() {
		if err := prometheus.Register(c); err != nil {
			slog.Debug("collector already registered", "provider", p.Name(), "error", err)
		}
	}

	slog.Info("registered tool provider", "provider", p.Name(), "tools", len(list))
}

// Definitions returns the definitions of all registered tools in
// registration order.
func (r *Registry) Definitions() []tools.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]tools.Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].tool.Definition())
	}
	return defs
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e.tool, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Execute runs the named tool, records metrics and converts a panic inside
// the tool into an error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", tools.ErrUnknownTool, name)
	}

	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked",
				"provider", e.provider,
				"tool", name,
				"panic", rec,
			)
			result = ""
			err = fmt.Errorf("internal error: tool %q panicked", name)

			observability.ToolExecutionsTotal.WithLabelValues(name, "panic").Inc()
			observability.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}()

	result, err = e.tool.Call(ctx, args)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
	observability.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	return result, err
}

// Close closes all registered providers, returning the last error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close tool provider", "provider", p.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// HasProviders returns true if at least one provider is registered.
func (r *Registry) HasProviders() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
