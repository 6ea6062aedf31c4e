package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by executors asked to run a tool they do not own.
var ErrUnknownTool = errors.New("unknown tool")

// Definition describes a tool to the backend and to the retry policy.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`

	// Transient reports whether a failure of this tool is expected to
	// succeed on retry (network-backed tools).
	Transient bool `json:"transient"`

	// Idempotent reports whether invoking the tool twice with the same
	// arguments has no additional side effects.
	Idempotent bool `json:"idempotent"`
}

// Tool is a single callable tool.
type Tool interface {
	Definition() Definition
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Executor runs tools by name. Registries and the Interceptor implement it.
type Executor interface {
	Definitions() []Definition
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args map[string]any) (string, error)
}

// Definition returns the tool definition.
func (f Func) Definition() Definition { return f.Def }

// Call invokes the wrapped function.
func (f Func) Call(ctx context.Context, args map[string]any) (string, error) {
	return f.Fn(ctx, args)
}

// StringArg extracts a required string argument.
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", name, v)
	}
	return s, nil
}

// OptionalString extracts a string argument, returning def when absent.
func OptionalString(args map[string]any, name, def string) string {
	if s, ok := args[name].(string); ok && s != "" {
		return s
	}
	return def
}

// OptionalInt extracts an integer argument. JSON numbers arrive as float64.
func OptionalInt(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
