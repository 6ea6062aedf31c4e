package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/provider"
)

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path /v1/chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}

		var chatReq ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if chatReq.Model != "test-model" || chatReq.Stream || chatReq.N != 1 {
			t.Errorf("unexpected request: %+v", chatReq)
		}
		if len(chatReq.Messages) != 2 || chatReq.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", chatReq.Messages)
		}
		if len(chatReq.Tools) != 1 || chatReq.Tools[0].Type != "function" || chatReq.Tools[0].Function.Name != "calculator" {
			t.Errorf("unexpected tools: %+v", chatReq.Tools)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"calculator","arguments":"{\"expression\":\"1+1\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	c := NewClient("local", srv.URL+"/v1/", "sk-test", 0)
	defer c.Close()

	if c.Name() != "local" {
		t.Errorf("Name() = %q, want local", c.Name())
	}

	res, err := c.Complete(context.Background(), &provider.Request{
		Model: "test-model",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Be brief."},
			{Role: provider.RoleUser, Content: "What is 1+1?"},
		},
		Tools: []provider.ToolDefinition{{
			Name:       "calculator",
			Parameters: json.RawMessage(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if res.Content != "" || res.FinishReason != "tool_calls" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "calculator" || res.ToolCalls[0].Arguments != `{"expression":"1+1"}` {
		t.Errorf("unexpected tool calls: %+v", res.ToolCalls)
	}
}

func TestClient_CompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("local", srv.URL, "", 0)
	_, err := c.Complete(context.Background(), &provider.Request{Model: "m"})

	var tbe *api.TransientBackendError
	if !errors.As(err, &tbe) {
		t.Fatalf("expected TransientBackendError, got %v", err)
	}
	if tbe.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", tbe.StatusCode)
	}
}

func TestClient_CompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","model":"m","choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient("local", srv.URL, "", 0)
	_, err := c.Complete(context.Background(), &provider.Request{Model: "m"})

	var be *api.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
}

func TestClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var chatReq ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !chatReq.Stream {
			t.Error("expected stream=true")
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range []string{"Hello", ", ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", word)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient("local", srv.URL, "", 0)

	var text string
	var done bool
	for ev, err := range c.Stream(context.Background(), &provider.Request{Model: "m"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		switch ev.Type {
		case provider.EventTextDelta:
			text += ev.Delta
		case provider.EventDone:
			done = true
		}
	}

	if text != "Hello, world" {
		t.Errorf("text = %q, want %q", text, "Hello, world")
	}
	if !done {
		t.Error("expected a done event")
	}
}

func TestClient_StreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"unknown model"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("local", srv.URL, "", 0)

	var gotErr error
	for _, err := range c.Stream(context.Background(), &provider.Request{Model: "nope"}) {
		if err != nil {
			gotErr = err
			break
		}
	}

	var be *api.BackendError
	if !errors.As(gotErr, &be) || be.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected BackendError 400, got %v", gotErr)
	}
}
