// Package websearch provides the network-backed web_search tool. Results
// come from a pluggable SearchAdapter; SearXNG and Brave are supported.
//
// Backend failures are reported as transient, argument problems as
// permanent. Searching has no side effects, so the tool is idempotent.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

const toolName = "web_search"

// toolParametersJSON is the JSON Schema for the web_search tool parameters.
var toolParametersJSON = json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`)

// Provider implements registry.Provider for web search.
type Provider struct {
	adapter    SearchAdapter
	maxResults int
	backend    string
	queries    *prometheus.CounterVec
	results    *prometheus.HistogramVec
}

var (
	_ registry.Provider = (*Provider)(nil)
	_ tools.Tool        = (*Provider)(nil)
)

// New creates a web search provider from its configuration. httpClient is
// used by the SearXNG adapter; nil means http.DefaultClient.
func New(cfg config.WebSearchConfig, httpClient *http.Client) (*Provider, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "searxng"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	var adapter SearchAdapter
	switch backend {
	case "searxng":
		if cfg.URL == "" {
			return nil, fmt.Errorf("web_search: 'url' is required for searxng backend")
		}
		adapter = NewSearXNG(cfg.URL, httpClient)
	case "brave":
		b, err := NewBrave(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		adapter = b
	default:
		return nil, fmt.Errorf("web_search: unknown backend %q", backend)
	}

	return NewWithAdapter(backend, adapter, maxResults), nil
}

// NewWithAdapter creates a provider around an existing adapter.
func NewWithAdapter(backend string, adapter SearchAdapter, maxResults int) *Provider {
	queries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_websearch_queries_total",
			Help: "Total web search queries",
		},
		[]string{"backend", "status"},
	)

	results := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_websearch_results_returned",
			Help:    "Number of web search results returned",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"backend"},
	)

	return &Provider{
		adapter:    adapter,
		maxResults: maxResults,
		backend:    backend,
		queries:    queries,
		results:    results,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return toolName
}

// Tools returns the single web_search tool.
func (p *Provider) Tools() []tools.Tool {
	return []tools.Tool{p}
}

// Definition describes the web_search tool.
func (p *Provider) Definition() tools.Definition {
	return tools.Definition{
		Name:        toolName,
		Description: "Search the web for current information",
		Parameters:  toolParametersJSON,
		Transient:   true,
		Idempotent:  true,
	}
}

// Call runs a search and returns the formatted results.
func (p *Provider) Call(ctx context.Context, args map[string]any) (string, error) {
	query, err := tools.StringArg(args, "query")
	if err == nil && strings.TrimSpace(query) == "" {
		err = errors.New("query must not be empty")
	}
	if err != nil {
		p.queries.WithLabelValues(p.backend, "error").Inc()
		return "", &api.ToolExecutionError{ToolName: toolName, IsTransient: false, Err: err}
	}

	results, err := p.adapter.Search(ctx, query, p.maxResults)
	if err != nil {
		p.queries.WithLabelValues(p.backend, "error").Inc()
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return "", &api.ToolExecutionError{ToolName: toolName, IsTransient: false, Err: fmt.Errorf("search failed: %w", err)}
		}
		return "", fmt.Errorf("search failed: %w", err)
	}

	p.queries.WithLabelValues(p.backend, "success").Inc()
	p.results.WithLabelValues(p.backend).Observe(float64(len(results)))

	return formatResults(query, results), nil
}

// Collectors returns the custom Prometheus metrics for this provider.
func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.queries, p.results}
}

// Close is a no-op for this provider.
func (p *Provider) Close() error {
	return nil
}

// formatResults builds a human-readable text block from search results.
func formatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)

	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}

	return b.String()
}
