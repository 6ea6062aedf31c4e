package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/rhuss/parley/pkg/api"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. Config file (explicit path, PARLEY_CONFIG env, ./parley.yaml, ./parley.toml, /etc/parley/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
//
// Every failure is returned as an *api.ConfigurationError.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadFile(filePath, &cfg); err != nil {
			return nil, &api.ConfigurationError{Err: fmt.Errorf("loading config file %s: %w", filePath, err)}
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, &api.ConfigurationError{Err: fmt.Errorf("resolving file references: %w", err)}
	}

	applyDerivedDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, &api.ConfigurationError{Err: err}
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path. Returns empty string if no
// config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"parley.yaml",
		"parley.toml",
		"/etc/parley/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadFile parses a YAML or TOML file (chosen by extension) into cfg.
// Fields not present in the file retain their current (default) values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps PARLEY_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PARLEY_DEBUG"); v != "" {
		cfg.Logging.Debug = v
	}
	if v := os.Getenv("PARLEY_DEFAULT_BACKEND"); v != "" {
		cfg.Defaults.Backend = v
	}
	if v := os.Getenv("PARLEY_DEFAULT_MODEL"); v != "" {
		cfg.Defaults.Model = v
	}
	if v := os.Getenv("PARLEY_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}
	if v := os.Getenv("PARLEY_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("PARLEY_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// PARLEY_<BACKEND>_API_KEY
	for name, b := range cfg.Backends {
		if v := os.Getenv(BackendKeyEnv(name)); v != "" {
			b.APIKey = v
			cfg.Backends[name] = b
		}
	}
}

// BackendKeyEnv returns the environment variable that overrides the API key
// of the named backend, e.g. "openai-prod" -> "PARLEY_OPENAI_PROD_API_KEY".
func BackendKeyEnv(name string) string {
	var b strings.Builder
	b.WriteString("PARLEY_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_API_KEY")
	return b.String()
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields when those are empty.
func resolveFileReferences(cfg *Config) error {
	for name, b := range cfg.Backends {
		if b.APIKeyFile != "" && b.APIKey == "" {
			val, err := readSecretFile(b.APIKeyFile)
			if err != nil {
				return fmt.Errorf("backends.%s.api_key_file: %w", name, err)
			}
			b.APIKey = val
			cfg.Backends[name] = b
		}
	}

	if cfg.Tools.WebSearch.APIKeyFile != "" && cfg.Tools.WebSearch.APIKey == "" {
		val, err := readSecretFile(cfg.Tools.WebSearch.APIKeyFile)
		if err != nil {
			return fmt.Errorf("tools.web_search.api_key_file: %w", err)
		}
		cfg.Tools.WebSearch.APIKey = val
	}

	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	if cfg.Auth.JWT.SecretFile != "" && cfg.Auth.JWT.Secret == "" {
		val, err := readSecretFile(cfg.Auth.JWT.SecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt.secret_file: %w", err)
		}
		cfg.Auth.JWT.Secret = val
	}

	return nil
}

// applyDerivedDefaults fills values that depend on other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Defaults.Backend == "" && len(cfg.Backends) > 0 {
		cfg.Defaults.Backend = cfg.BackendNames()[0]
	}
	for name, b := range cfg.Backends {
		if b.Type == "" {
			b.Type = TypeOpenAICompatible
			cfg.Backends[name] = b
		}
	}
}

// BackendNames returns the configured backend names in sorted order.
func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
