package backend

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/provider"
	"github.com/rhuss/parley/pkg/provider/anthropic"
	"github.com/rhuss/parley/pkg/provider/ollama"
	"github.com/rhuss/parley/pkg/provider/openai"
	"github.com/rhuss/parley/pkg/provider/openaicompat"
)

// DriverFactory builds the driver for one configured backend.
type DriverFactory func(name string, cfg config.BackendConfig, httpClient *http.Client) (provider.Provider, error)

// displayNames are used when a backend configures no display_name.
var displayNames = map[string]string{
	config.TypeOpenAI:           "OpenAI",
	config.TypeAnthropic:        "Anthropic",
	config.TypeOllama:           "Ollama",
	config.TypeOpenAICompatible: "OpenAI-compatible",
	config.TypeVLLM:             "vLLM",
	config.TypeLiteLLM:          "LiteLLM",
}

// DefaultDrivers maps every supported backend type to its driver.
func DefaultDrivers() map[string]DriverFactory {
	compat := func(name string, cfg config.BackendConfig, hc *http.Client) (provider.Provider, error) {
		return openaicompat.NewClient(name, cfg.Endpoint, cfg.APIKey, cfg.Timeout.Std(), openaicompat.WithHTTPClient(hc)), nil
	}
	return map[string]DriverFactory{
		config.TypeOpenAI: func(name string, cfg config.BackendConfig, hc *http.Client) (provider.Provider, error) {
			return openai.New(openai.Config{
				Name:       name,
				BaseURL:    cfg.Endpoint,
				APIKey:     cfg.APIKey,
				Timeout:    cfg.Timeout.Std(),
				HTTPClient: hc,
			})
		},
		config.TypeAnthropic: func(name string, cfg config.BackendConfig, hc *http.Client) (provider.Provider, error) {
			return anthropic.New(anthropic.Config{
				Name:       name,
				BaseURL:    cfg.Endpoint,
				APIKey:     cfg.APIKey,
				Timeout:    cfg.Timeout.Std(),
				HTTPClient: hc,
			})
		},
		config.TypeOllama: func(name string, cfg config.BackendConfig, hc *http.Client) (provider.Provider, error) {
			return ollama.New(ollama.Config{
				Name:       name,
				BaseURL:    cfg.Endpoint,
				Timeout:    cfg.Timeout.Std(),
				HTTPClient: hc,
			})
		},
		config.TypeOpenAICompatible: compat,
		config.TypeVLLM:             compat,
		config.TypeLiteLLM:          compat,
	}
}

// Registry resolves backend names to clients. It reads the configuration
// only and is safe for concurrent use without locking.
type Registry struct {
	backends     map[string]config.BackendConfig
	defaults     config.DefaultsConfig
	maxToolTurns int
	maxTokens    int
	drivers      map[string]DriverFactory
	httpClient   *http.Client
	logger       *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDrivers replaces the driver table.
func WithDrivers(d map[string]DriverFactory) RegistryOption {
	return func(r *Registry) { r.drivers = d }
}

// WithHTTPClient sets the HTTP client shared by all drivers.
func WithHTTPClient(hc *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = hc }
}

// WithRegistryLogger sets the logger passed to every client.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry over cfg. The default HTTP client traces
// outgoing requests.
func NewRegistry(cfg *config.Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		backends:     cfg.Backends,
		defaults:     cfg.Defaults,
		maxToolTurns: cfg.Orchestration.MaxToolTurns,
		maxTokens:    cfg.Orchestration.MaxTokens,
		drivers:      DefaultDrivers(),
		httpClient:   &http.Client{Transport: observability.HTTPTransport(nil)},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a fresh client for the named backend and model. An empty
// name selects the default backend; an empty model selects the default
// model when resolving the default backend, otherwise the backend's first
// configured model. The model ID is not checked against the configured
// list; the backend rejects unknown models itself.
func (r *Registry) Resolve(providerName, modelID string) (Client, error) {
	name := providerName
	if name == "" {
		name = r.defaults.Backend
	}
	bc, ok := r.backends[name]
	if !ok {
		return nil, &api.UnknownProviderError{Provider: name}
	}
	if bc.APIKey == "" {
		return nil, &api.InvalidCredentialsError{Provider: name}
	}

	model := modelID
	if model == "" {
		model = r.defaultModel(name, bc)
	}
	if model == "" {
		return nil, &api.ArgumentError{Param: "model", Message: fmt.Sprintf("backend %q has no models configured", name)}
	}

	factory, ok := r.drivers[bc.Type]
	if !ok {
		return nil, &api.ConfigurationError{Err: fmt.Errorf("%s.type %q is not supported", name, bc.Type)}
	}
	driver, err := factory(name, bc, r.httpClient)
	if err != nil {
		return nil, err
	}

	maxTokens := r.maxTokens
	if bc.MaxTokens > 0 {
		maxTokens = bc.MaxTokens
	}

	var client Client = NewDriverClient(r.metadata(name, bc, model), driver,
		WithMaxToolTurns(r.maxToolTurns),
		WithMaxTokens(maxTokens),
		WithLogger(r.logger),
	)
	if bc.SystemPrompt != "" {
		client = WithSystemInstruction(client, bc.SystemPrompt)
	}
	return client, nil
}

func (r *Registry) defaultModel(name string, bc config.BackendConfig) string {
	if name == r.defaults.Backend && r.defaults.Model != "" {
		return r.defaults.Model
	}
	if len(bc.Models) > 0 {
		return bc.Models[0].ID
	}
	return ""
}

func (r *Registry) metadata(name string, bc config.BackendConfig, model string) api.BackendMetadata {
	display := bc.DisplayName
	if display == "" {
		display = displayNames[bc.Type]
	}
	if display == "" {
		display = name
	}
	return api.BackendMetadata{
		ID:          name,
		DisplayName: display,
		Type:        bc.Type,
		Model:       model,
	}
}

// Names returns the configured backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultBackend returns the name used when a request names none.
func (r *Registry) DefaultBackend() string { return r.defaults.Backend }

// Backends describes every configured backend with its models. Models are
// listed from configuration; no backend is contacted.
func (r *Registry) Backends() []api.BackendInfo {
	infos := make([]api.BackendInfo, 0, len(r.backends))
	for _, name := range r.Names() {
		bc := r.backends[name]
		models := make([]api.ModelInfo, 0, len(bc.Models))
		for _, m := range bc.Models {
			models = append(models, api.ModelInfo{
				ID:            m.ID,
				DisplayName:   m.DisplayName,
				ContextWindow: m.ContextWindow,
			})
		}
		infos = append(infos, api.BackendInfo{
			BackendMetadata: r.metadata(name, bc, r.defaultModel(name, bc)),
			Models:          models,
			Default:         name == r.DefaultBackend(),
		})
	}
	return infos
}
