// Package template resolves, validates and renders named prompt templates.
//
// A template body contains {{name}} placeholders. Rendering first checks
// that every placeholder has a value and reports all missing names at
// once; only then are the values substituted literally. Templates are
// looked up in a fixed order of sources (built-in, filesystem,
// configuration) and cached by name for the lifetime of the Engine.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rhuss/parley/pkg/api"
)

// placeholderRe matches {{name}} with optional inner whitespace.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Template is an immutable parsed prompt template.
type Template struct {
	Name    string
	Source  string
	Content string

	variables []string
}

// Parse builds a Template and extracts its variable names.
func Parse(name, source, content string) *Template {
	return &Template{
		Name:      name,
		Source:    source,
		Content:   content,
		variables: extractVariables(content),
	}
}

// Variables returns the distinct placeholder names in order of first
// appearance.
func (t *Template) Variables() []string {
	out := make([]string, len(t.variables))
	copy(out, t.variables)
	return out
}

// Render substitutes vars into the template. A nil value counts as
// missing. If any variable is missing the result is a
// *api.MissingVariablesError naming all of them.
func (t *Template) Render(vars map[string]any) (string, error) {
	var missing []string
	for _, name := range t.variables {
		if v, ok := vars[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &api.MissingVariablesError{Names: missing}
	}

	return placeholderRe.ReplaceAllStringFunc(t.Content, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return stringify(vars[name])
	}), nil
}

func extractVariables(content string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
