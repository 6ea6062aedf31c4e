package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/tools"
)

// mockProvider implements Provider for testing.
type mockProvider struct {
	name       string
	toolList   []tools.Tool
	collectors []prometheus.Collector
	closeErr   error
	closed     bool
}

func (m *mockProvider) Name() string                       { return m.name }
func (m *mockProvider) Tools() []tools.Tool                { return m.toolList }
func (m *mockProvider) Collectors() []prometheus.Collector { return m.collectors }

func (m *mockProvider) Close() error {
	m.closed = true
	return m.closeErr
}

var _ Provider = (*mockProvider)(nil)

func fn(name, out string) tools.Tool {
	return tools.Func{
		Def: tools.Definition{Name: name, Description: "test tool " + name},
		Fn: func(context.Context, map[string]any) (string, error) {
			return out, nil
		},
	}
}

func TestRegistry_Definitions(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "test-provider",
		toolList: []tools.Tool{fn("tool_b", "b"), fn("tool_a", "a")},
	})

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("Definitions() returned %d tools, want 2", len(defs))
	}
	if defs[0].Name != "tool_b" || defs[1].Name != "tool_a" {
		t.Errorf("expected registration order [tool_b tool_a], got [%s %s]", defs[0].Name, defs[1].Name)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{name: "p", toolList: []tools.Tool{fn("known_tool", "x")}})

	if _, ok := reg.Lookup("known_tool"); !ok {
		t.Error("expected Lookup(known_tool) to succeed")
	}
	if _, ok := reg.Lookup("unknown_tool"); ok {
		t.Error("expected Lookup(unknown_tool) to fail")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := New()
	add := tools.Func{
		Def: tools.Definition{Name: "add"},
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return fmt.Sprintf("%g", a+b), nil
		},
	}
	reg.Register(&mockProvider{name: "calc", toolList: []tools.Tool{add}})

	before := counterValue(t, "add", "success")
	out, err := reg.Execute(context.Background(), "add", map[string]any{"a": 2.0, "b": 3.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "5" {
		t.Errorf("output = %q, want %q", out, "5")
	}
	if got := counterValue(t, "add", "success") - before; got != 1 {
		t.Errorf("success counter delta = %f, want 1", got)
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := New()
	_, err := reg.Execute(context.Background(), "nonexistent", nil)
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistry_ExecuteError(t *testing.T) {
	reg := New()
	boom := errors.New("boom")
	reg.Register(&mockProvider{name: "p", toolList: []tools.Tool{tools.Func{
		Def: tools.Definition{Name: "failing"},
		Fn: func(context.Context, map[string]any) (string, error) {
			return "", boom
		},
	}}})

	before := counterValue(t, "failing", "error")
	_, err := reg.Execute(context.Background(), "failing", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := counterValue(t, "failing", "error") - before; got != 1 {
		t.Errorf("error counter delta = %f, want 1", got)
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{name: "p", toolList: []tools.Tool{tools.Func{
		Def: tools.Definition{Name: "panicky"},
		Fn: func(context.Context, map[string]any) (string, error) {
			panic("something went wrong")
		},
	}}})

	before := counterValue(t, "panicky", "panic")
	out, err := reg.Execute(context.Background(), "panicky", nil)
	if err == nil {
		t.Fatal("expected an error after panic")
	}
	if out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
	if got := counterValue(t, "panicky", "panic") - before; got != 1 {
		t.Errorf("panic counter delta = %f, want 1", got)
	}
}

func TestRegistry_NameConflict(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{name: "first", toolList: []tools.Tool{fn("shared", "from first")}})
	reg.Register(&mockProvider{name: "second", toolList: []tools.Tool{fn("shared", "from second")}})

	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	out, err := reg.Execute(context.Background(), "shared", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "from first" {
		t.Errorf("expected first provider to win, got %q", out)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := New()
	p1 := &mockProvider{name: "p1"}
	p2 := &mockProvider{name: "p2", closeErr: errors.New("close failed")}
	reg.Register(p1)
	reg.Register(p2)

	if err := reg.Close(); err == nil {
		t.Error("expected the close error of p2")
	}
	if !p1.closed || !p2.closed {
		t.Error("expected all providers to be closed")
	}
}

func TestRegistry_HasProviders(t *testing.T) {
	reg := New()
	if reg.HasProviders() {
		t.Error("expected empty registry to have no providers")
	}
	reg.Register(Static{ProviderName: "static"})
	if !reg.HasProviders() {
		t.Error("expected HasProviders after Register")
	}
}

func TestRegistry_Collectors(t *testing.T) {
	reg := New()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_registry_test_custom_total",
		Help: "Test collector",
	})
	reg.Register(&mockProvider{name: "p", collectors: []prometheus.Collector{c}})
	// Registering the same collector twice must not panic.
	reg.Register(&mockProvider{name: "q", collectors: []prometheus.Collector{c}})
	prometheus.Unregister(c)
}

func counterValue(t *testing.T, tool, status string) float64 {
	t.Helper()
	c, err := observability.ToolExecutionsTotal.GetMetricWithLabelValues(tool, status)
	if err != nil {
		t.Fatalf("getting counter: %v", err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
