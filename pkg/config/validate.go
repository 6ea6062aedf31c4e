package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together with their field paths.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Backends) == 0 {
		errs = append(errs, fmt.Errorf("backends: at least one backend is required"))
	}

	for _, name := range c.BackendNames() {
		errs = append(errs, validateBackend(name, c.Backends[name])...)
	}

	if c.Defaults.Backend != "" {
		if _, ok := c.Backends[c.Defaults.Backend]; !ok {
			errs = append(errs, fmt.Errorf("defaults.backend %q is not a configured backend", c.Defaults.Backend))
		}
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay must be > 0, got %s", c.Retry.InitialDelay.Std()))
	}

	if c.Orchestration.MaxToolTurns < 1 {
		errs = append(errs, fmt.Errorf("orchestration.max_tool_turns must be >= 1, got %d", c.Orchestration.MaxToolTurns))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	for _, name := range c.Tools.Builtins {
		switch name {
		case "calculator", "current_time":
		default:
			errs = append(errs, fmt.Errorf("tools.builtins: unknown builtin %q", name))
		}
	}

	if ws := c.Tools.WebSearch; ws.Enabled {
		switch ws.Backend {
		case "searxng":
			if ws.URL == "" {
				errs = append(errs, fmt.Errorf("tools.web_search.url is required for the searxng backend"))
			}
		case "brave":
			if ws.APIKey == "" {
				errs = append(errs, fmt.Errorf("tools.web_search.api_key is required for the brave backend"))
			}
		default:
			errs = append(errs, fmt.Errorf("tools.web_search.backend must be \"searxng\" or \"brave\", got %q", ws.Backend))
		}
	}

	for i, s := range c.Tools.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("tools.mcp.servers[%d].name is required", i))
		}
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("tools.mcp.servers[%d].url is required", i))
		}
		switch s.Transport {
		case "", "sse", "streamable-http":
		default:
			errs = append(errs, fmt.Errorf("tools.mcp.servers[%d].transport %q is not supported", i, s.Transport))
		}
		switch s.Auth.Type {
		case "":
		case "oauth_client_credentials":
			if s.Auth.TokenURL == "" || s.Auth.ClientID == "" {
				errs = append(errs, fmt.Errorf("tools.mcp.servers[%d].auth requires token_url and client_id", i))
			}
		default:
			errs = append(errs, fmt.Errorf("tools.mcp.servers[%d].auth.type %q is not supported", i, s.Auth.Type))
		}
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.PublicKeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.public_key_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.requests_per_minute must not be negative"))
	}
	for tier, rpm := range c.Auth.RateLimit.Tiers {
		if rpm < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit.tiers.%s must not be negative", tier))
		}
	}

	return errors.Join(errs...)
}

// validateBackend applies the startup-fatal backend checks: API key,
// absolute endpoint URI, non-empty model list and known type.
func validateBackend(name string, b BackendConfig) []error {
	var errs []error
	prefix := "backends." + name

	if b.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required (or %s.api_key_file, or %s)", prefix, prefix, BackendKeyEnv(name)))
	}

	if b.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%s.endpoint is required", prefix))
	} else if u, err := url.Parse(b.Endpoint); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s.endpoint must be an absolute URI, got %q", prefix, b.Endpoint))
	}

	if len(b.Models) == 0 {
		errs = append(errs, fmt.Errorf("%s.models must not be empty", prefix))
	}
	for i, m := range b.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("%s.models[%d].id is required", prefix, i))
		}
	}

	switch b.Type {
	case TypeOpenAI, TypeAnthropic, TypeOllama, TypeOpenAICompatible, TypeVLLM, TypeLiteLLM:
	default:
		errs = append(errs, fmt.Errorf("%s.type %q is not supported", prefix, b.Type))
	}

	return errs
}
