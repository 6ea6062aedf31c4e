// Package config provides unified configuration for parley.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML or TOML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PARLEY_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
//
// The loaded Config is read-only for the lifetime of the process.
package config

import (
	"fmt"
	"time"
)

// Backend types understood by the backend registry.
const (
	TypeOpenAI           = "openai"
	TypeAnthropic        = "anthropic"
	TypeOllama           = "ollama"
	TypeOpenAICompatible = "openai-compatible"
	TypeVLLM             = "vllm"
	TypeLiteLLM          = "litellm"
)

// Config holds all configuration for parley.
type Config struct {
	Server        ServerConfig             `yaml:"server" toml:"server"`
	Logging       LoggingConfig            `yaml:"logging" toml:"logging"`
	Backends      map[string]BackendConfig `yaml:"backends" toml:"backends"`
	Defaults      DefaultsConfig           `yaml:"defaults" toml:"defaults"`
	Retry         RetryConfig              `yaml:"retry" toml:"retry"`
	Orchestration OrchestrationConfig      `yaml:"orchestration" toml:"orchestration"`
	Templates     TemplatesConfig          `yaml:"templates" toml:"templates"`
	Tools         ToolsConfig              `yaml:"tools" toml:"tools"`
	Auth          AuthConfig               `yaml:"auth" toml:"auth"`
	Observability ObservabilityConfig      `yaml:"observability" toml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port" toml:"port"`                         // default: 8080
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout"`         // default: 30s
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout"`       // default: 0 (streams are unbounded)
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64    `yaml:"max_body_size" toml:"max_body_size"`       // default: 10MB
}

// LoggingConfig controls the slog handler installed at startup.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // TRACE, DEBUG, INFO, WARN, ERROR
	Format string `yaml:"format" toml:"format"` // text or json
	Debug  string `yaml:"debug" toml:"debug"`   // comma separated debug categories
}

// BackendConfig describes one named generation backend.
type BackendConfig struct {
	Type         string        `yaml:"type" toml:"type"`
	DisplayName  string        `yaml:"display_name" toml:"display_name"`
	APIKey       string        `yaml:"api_key" toml:"api_key"`
	APIKeyFile   string        `yaml:"api_key_file" toml:"api_key_file"` // _file variant for api_key
	Endpoint     string        `yaml:"endpoint" toml:"endpoint"`
	Models       []ModelConfig `yaml:"models" toml:"models"`
	SystemPrompt string        `yaml:"system_prompt" toml:"system_prompt"`
	Timeout      Duration      `yaml:"timeout" toml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens" toml:"max_tokens"`
}

// ModelConfig describes one model offered by a backend.
type ModelConfig struct {
	ID            string `yaml:"id" toml:"id"`
	DisplayName   string `yaml:"display_name" toml:"display_name"`
	ContextWindow int    `yaml:"context_window" toml:"context_window"`
}

// DefaultsConfig selects the backend and model used when a request names none.
type DefaultsConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Model   string `yaml:"model" toml:"model"`
}

// RetryConfig tunes the non-streaming retry executor.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts" toml:"max_attempts"`   // default: 3
	InitialDelay Duration `yaml:"initial_delay" toml:"initial_delay"` // default: 1s, must be > 0
}

// OrchestrationConfig bounds the tool calling loop.
type OrchestrationConfig struct {
	MaxToolTurns int `yaml:"max_tool_turns" toml:"max_tool_turns"` // default: 8
	MaxTokens    int `yaml:"max_tokens" toml:"max_tokens"`         // default: 1024
}

// TemplatesConfig lists filesystem and inline prompt templates.
type TemplatesConfig struct {
	Dir    string            `yaml:"dir" toml:"dir"`
	Inline map[string]string `yaml:"inline" toml:"inline"`
}

// ToolsConfig selects the tools offered to backends.
type ToolsConfig struct {
	Builtins  []string        `yaml:"builtins" toml:"builtins"`
	WebSearch WebSearchConfig `yaml:"web_search" toml:"web_search"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp"`
}

// WebSearchConfig configures the web_search tool.
type WebSearchConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Backend    string `yaml:"backend" toml:"backend"` // "searxng" or "brave"
	URL        string `yaml:"url" toml:"url"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	APIKeyFile string `yaml:"api_key_file" toml:"api_key_file"`
	MaxResults int    `yaml:"max_results" toml:"max_results"` // default: 5
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers" toml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	Name      string            `yaml:"name" toml:"name"`
	Transport string            `yaml:"transport" toml:"transport"` // "sse" or "streamable-http"
	URL       string            `yaml:"url" toml:"url"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`
	Auth      MCPAuthConfig     `yaml:"auth" toml:"auth"`
}

// MCPAuthConfig configures OAuth 2.0 client credentials for an MCP server.
type MCPAuthConfig struct {
	Type         string   `yaml:"type" toml:"type"` // "" or "oauth_client_credentials"
	TokenURL     string   `yaml:"token_url" toml:"token_url"`
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
}

// AuthConfig holds authentication settings for the HTTP API.
type AuthConfig struct {
	Type      string          `yaml:"type" toml:"type"` // "none", "apikey" or "jwt"
	APIKeys   []APIKeyConfig  `yaml:"api_keys" toml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt" toml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key     string `yaml:"key" toml:"key"`
	KeyFile string `yaml:"key_file" toml:"key_file"` // _file variant for key
	Subject string `yaml:"subject" toml:"subject"`
	Tier    string `yaml:"tier" toml:"tier"` // rate limit tier, default: "default"
}

// RateLimitConfig limits authenticated callers per minute. Zero disables
// limiting for a tier.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Tiers             map[string]int `yaml:"tiers" toml:"tiers"` // tier -> requests per minute
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Issuer        string `yaml:"issuer" toml:"issuer"`
	Audience      string `yaml:"audience" toml:"audience"`
	Secret        string `yaml:"secret" toml:"secret"` // HS256 shared secret
	SecretFile    string `yaml:"secret_file" toml:"secret_file"`
	PublicKeyFile string `yaml:"public_key_file" toml:"public_key_file"` // PEM, RS256
	SubjectClaim  string `yaml:"subject_claim" toml:"subject_claim"`     // default: "sub"
	TierClaim     string `yaml:"tier_claim" toml:"tier_claim"`           // default: "tier"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"` // default: true
	Path    string `yaml:"path" toml:"path"`       // default: "/metrics"
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint"` // host:port
	URLPath     string `yaml:"url_path" toml:"url_path"`
	Insecure    bool   `yaml:"insecure" toml:"insecure"`
	ServiceName string `yaml:"service_name" toml:"service_name"` // default: "parley"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			MaxBodySize:     10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(time.Second),
		},
		Orchestration: OrchestrationConfig{
			MaxToolTurns: 8,
			MaxTokens:    1024,
		},
		Tools: ToolsConfig{
			Builtins: []string{"calculator", "current_time"},
			WebSearch: WebSearchConfig{
				Backend:    "searxng",
				MaxResults: 5,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				ServiceName: "parley",
			},
		},
	}
}

// Duration is a time.Duration that decodes from strings such as "1s" in
// both YAML and TOML files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
