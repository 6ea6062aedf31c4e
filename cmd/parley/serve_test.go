package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/debug"
	transporthttp "github.com/rhuss/parley/pkg/transport/http"
)

// TestServeStack drives the assembled server against a fake backend.
func TestServeStack(t *testing.T) {
	backend := fakeBackend(t, "Hi there!")
	cfg, err := config.Load(writeConfig(t, backend.URL+"/v1"))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	logger := debug.Setup(cfg.Logging, io.Discard)

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(transporthttp.NewServer(a.orch, cfg.Server,
		transporthttp.WithLogger(logger),
		transporthttp.WithReadiness(a.ready),
	).Handler())
	defer srv.Close()

	t.Run("chat", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
			strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"content":"Hi there!"`) {
			t.Errorf("status %d body %s", resp.StatusCode, body)
		}
	})

	t.Run("stream", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/chat/stream", "application/json",
			strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		text := string(body)
		if !strings.Contains(text, `"content":"Hi there!"`) {
			t.Errorf("missing content frame:\n%s", text)
		}
		if strings.Count(text, `"is_final":true`) != 1 {
			t.Errorf("want exactly one final frame:\n%s", text)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/chat", "application/json",
			strings.NewReader(`{"provider":"nope","messages":[{"role":"user","content":"hello"}]}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/readyz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("readyz = %d", resp.StatusCode)
		}
	})
}
