package template

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

const fileExt = ".tmpl"

//go:embed builtin/*.tmpl
var builtinFS embed.FS

// Source is one place templates can come from.
type Source interface {
	// Name identifies the source ("builtin", "filesystem", "config").
	Name() string

	// Lookup returns the body of the named template. ok is false when the
	// source does not have it.
	Lookup(name string) (content string, ok bool, err error)

	// List returns the template names this source provides.
	List() ([]string, error)
}

// fsSource serves NAME.tmpl files from a file system.
type fsSource struct {
	name string
	fsys fs.FS
}

// Builtin returns the templates bundled into the binary.
func Builtin() Source {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		panic(err)
	}
	return &fsSource{name: "builtin", fsys: sub}
}

// Dir returns a source reading NAME.tmpl files from dir.
func Dir(dir string) Source {
	return &fsSource{name: "filesystem", fsys: os.DirFS(dir)}
}

// FS returns a source reading NAME.tmpl files from fsys.
func FS(name string, fsys fs.FS) Source {
	return &fsSource{name: name, fsys: fsys}
}

func (s *fsSource) Name() string { return s.name }

func (s *fsSource) Lookup(name string) (string, bool, error) {
	data, err := fs.ReadFile(s.fsys, name+fileExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading template %q from %s: %w", name, s.name, err)
	}
	return string(data), true, nil
}

func (s *fsSource) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != fileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	return names, nil
}

// mapSource serves templates from an in-memory map.
type mapSource map[string]string

// Inline returns a source backed by the given name to body map.
func Inline(templates map[string]string) Source {
	m := make(mapSource, len(templates))
	for k, v := range templates {
		m[k] = v
	}
	return m
}

func (m mapSource) Name() string { return "config" }

func (m mapSource) Lookup(name string) (string, bool, error) {
	c, ok := m[name]
	return c, ok, nil
}

func (m mapSource) List() ([]string, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}
