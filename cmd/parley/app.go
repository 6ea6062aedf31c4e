package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/auth"
	"github.com/rhuss/parley/pkg/auth/apikey"
	"github.com/rhuss/parley/pkg/auth/jwt"
	"github.com/rhuss/parley/pkg/backend"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/orchestrator"
	"github.com/rhuss/parley/pkg/retry"
	"github.com/rhuss/parley/pkg/template"
	"github.com/rhuss/parley/pkg/tools/builtins"
	"github.com/rhuss/parley/pkg/tools/builtins/websearch"
	"github.com/rhuss/parley/pkg/tools/mcp"
	"github.com/rhuss/parley/pkg/tools/registry"
	"github.com/rhuss/parley/pkg/transport"
)

var _ transport.Service = (*orchestrator.Orchestrator)(nil)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	templates *template.Engine
	tools     *registry.Registry
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	tools, err := buildTools(ctx, cfg.Tools)
	if err != nil {
		return nil, err
	}

	backends := backend.NewRegistry(cfg, backend.WithRegistryLogger(logger))
	templates := template.New(cfg.Templates)
	executor := retry.New(retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay.Std(),
	}, retry.WithLogger(logger))

	opts := []orchestrator.Option{
		orchestrator.WithRetry(executor),
		orchestrator.WithLogger(logger),
	}
	if tools.Len() > 0 {
		opts = append(opts, orchestrator.WithTools(tools))
	}

	return &app{
		cfg:       cfg,
		orch:      orchestrator.New(backends, templates, opts...),
		templates: templates,
		tools:     tools,
	}, nil
}

// ready reports whether the server can take traffic.
func (a *app) ready(context.Context) error {
	if len(a.orch.Backends()) == 0 {
		return errors.New("no backends configured")
	}
	return nil
}

func (a *app) Close() error {
	return a.tools.Close()
}

// buildTools registers the configured tool providers. MCP servers that
// cannot be reached are skipped.
func buildTools(ctx context.Context, cfg config.ToolsConfig) (*registry.Registry, error) {
	reg := registry.New()

	if len(cfg.Builtins) > 0 {
		p, err := builtins.NewProvider(cfg.Builtins)
		if err != nil {
			return nil, fmt.Errorf("tools.builtins: %w", err)
		}
		reg.Register(p)
	}

	if cfg.WebSearch.Enabled {
		p, err := websearch.New(cfg.WebSearch, &http.Client{
			Transport: observability.HTTPTransport(nil),
			Timeout:   15 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
	}

	if len(cfg.MCP.Servers) > 0 {
		for _, c := range mcp.ConnectAll(ctx, cfg.MCP.Servers, observability.HTTPTransport(nil)) {
			reg.Register(c)
		}
	}

	return reg, nil
}

// buildAuth assembles the authenticator chain and rate limiter. Both are
// nil when neither authentication nor rate limiting is configured.
func buildAuth(cfg config.AuthConfig) (*auth.Chain, auth.RateLimiter, error) {
	var limiter auth.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 || len(cfg.RateLimit.Tiers) > 0 {
		limiter = auth.NewWindowLimiter(cfg.RateLimit.Tiers, cfg.RateLimit.RequestsPerMinute)
	}

	switch cfg.Type {
	case "apikey":
		return &auth.Chain{
			Authenticators: []auth.Authenticator{apikey.New(cfg.APIKeys)},
			Default:        auth.No,
		}, limiter, nil
	case "jwt":
		a, err := jwt.New(cfg.JWT)
		if err != nil {
			return nil, nil, &api.ConfigurationError{Err: fmt.Errorf("auth.jwt: %w", err)}
		}
		return &auth.Chain{
			Authenticators: []auth.Authenticator{a},
			Default:        auth.No,
		}, limiter, nil
	}

	if limiter != nil {
		return &auth.Chain{Default: auth.Yes}, limiter, nil
	}
	return nil, nil, nil
}
