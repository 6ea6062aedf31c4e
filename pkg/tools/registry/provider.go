// Package registry aggregates tool providers into a single tools.Executor.
// A Provider contributes a set of tools plus optional Prometheus collectors
// for provider-specific metrics; built-in tools, the web search tool and
// MCP servers are all registered as providers.
package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/parley/pkg/tools"
)

// Provider is a pluggable source of tools.
type Provider interface {
	// Name returns a unique identifier for this provider (e.g., "builtin").
	Name() string

	// Tools returns the tools this provider contributes.
	Tools() []tools.Tool

	// Collectors returns Prometheus collectors for provider-specific metrics.
	Collectors() []prometheus.Collector

	// Close releases any resources held by the provider.
	Close() error
}

// Static is a Provider backed by a fixed tool list.
type Static struct {
	ProviderName string
	ToolList     []tools.Tool
}

// Name returns the provider name.
func (s Static) Name() string { return s.ProviderName }

// Tools returns the fixed tool list.
func (s Static) Tools() []tools.Tool { return s.ToolList }

// Collectors returns nil.
func (Static) Collectors() []prometheus.Collector { return nil }

// Close is a no-op.
func (Static) Close() error { return nil }
