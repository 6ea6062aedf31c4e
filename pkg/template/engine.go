package template

import (
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/config"
)

// Info describes an available template.
type Info struct {
	Name      string   `json:"name"`
	Source    string   `json:"source"`
	Variables []string `json:"variables"`
}

// Engine resolves templates from an ordered list of sources and caches
// every hit. Cache entries are never invalidated. Safe for concurrent use.
type Engine struct {
	sources []Source

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewEngine creates an engine over sources, earlier sources taking
// precedence.
func NewEngine(sources ...Source) *Engine {
	return &Engine{
		sources: sources,
		cache:   make(map[string]*Template),
	}
}

// New creates an engine with the built-in templates, then cfg.Dir when
// set, then cfg.Inline.
func New(cfg config.TemplatesConfig) *Engine {
	sources := []Source{Builtin()}
	if cfg.Dir != "" {
		sources = append(sources, Dir(cfg.Dir))
	}
	if len(cfg.Inline) > 0 {
		sources = append(sources, Inline(cfg.Inline))
	}
	return NewEngine(sources...)
}

// Resolve returns the named template, consulting the cache first and the
// sources in order otherwise. Unknown names yield *api.TemplateNotFoundError.
func (e *Engine) Resolve(name string) (*Template, error) {
	e.mu.RLock()
	t, ok := e.cache[name]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}

	if !validName(name) {
		return nil, &api.TemplateNotFoundError{Name: name}
	}

	for _, src := range e.sources {
		content, found, err := src.Lookup(name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		t = Parse(name, src.Name(), content)
		e.mu.Lock()
		if cached, ok := e.cache[name]; ok {
			t = cached
		} else {
			e.cache[name] = t
		}
		e.mu.Unlock()
		slog.Debug("template resolved", "name", name, "source", t.Source)
		return t, nil
	}

	return nil, &api.TemplateNotFoundError{Name: name}
}

// Render resolves name and renders it with vars.
func (e *Engine) Render(name string, vars map[string]any) (string, error) {
	t, err := e.Resolve(name)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

// List returns every template name any source provides, sorted, each
// attributed to the source that wins resolution.
func (e *Engine) List() ([]Info, error) {
	seen := make(map[string]bool)
	var infos []Info
	for _, src := range e.sources {
		names, err := src.List()
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if seen[name] || !validName(name) {
				continue
			}
			seen[name] = true
			t, err := e.Resolve(name)
			if err != nil {
				return nil, err
			}
			infos = append(infos, Info{Name: t.Name, Source: t.Source, Variables: t.Variables()})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// validName rejects names that would escape a template directory.
func validName(name string) bool {
	return name != "" && fs.ValidPath(name) && !strings.Contains(name, "/") && name != "."
}
