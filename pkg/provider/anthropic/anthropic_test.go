package anthropic

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

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{Name: "claude", BaseURL: srv.URL, APIKey: "sk-ant"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{Name: "claude"})
	var credErr *api.InvalidCredentialsError
	if !errors.As(err, &credErr) || credErr.Provider != "claude" {
		t.Fatalf("expected InvalidCredentialsError, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "sk-ant" {
			t.Errorf("X-Api-Key = %q", got)
		}

		var body struct {
			System    []map[string]any `json:"system"`
			Messages  []map[string]any `json:"messages"`
			MaxTokens int              `json:"max_tokens"`
			Tools     []map[string]any `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.System) != 1 || body.System[0]["text"] != "Be terse." {
			t.Errorf("system = %v", body.System)
		}
		if len(body.Messages) != 1 || body.Messages[0]["role"] != "user" {
			t.Errorf("messages = %v", body.Messages)
		}
		if body.MaxTokens != defaultMaxTokens {
			t.Errorf("max_tokens = %d, want %d", body.MaxTokens, defaultMaxTokens)
		}
		if len(body.Tools) != 1 || body.Tools[0]["name"] != "calculator" {
			t.Errorf("tools = %v", body.Tools)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"Let me compute."},{"type":"tool_use","id":"toolu_1","name":"calculator","input":{"expression":"6*7"}}],"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":5}}`)
	})

	res, err := p.Complete(context.Background(), &provider.Request{
		Model: "claude-test",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Be terse."},
			{Role: provider.RoleUser, Content: "6*7?"},
		},
		Tools: []provider.ToolDefinition{{
			Name:       "calculator",
			Parameters: json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`),
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if res.Content != "Let me compute." || res.FinishReason != "tool_use" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(res.ToolCalls))
	}
	args, err := provider.DecodeArguments(res.ToolCalls[0].Arguments)
	if err != nil || args["expression"] != "6*7" {
		t.Errorf("arguments = %q (%v)", res.ToolCalls[0].Arguments, err)
	}
}

func TestComplete_ErrorClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantTransient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{529, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"type":"error","error":{"type":"x","message":"nope"}}`)
			})

			_, err := p.Complete(context.Background(), &provider.Request{Model: "m"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := api.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v (%v)", got, tt.wantTransient, err)
			}
		})
	}
}

func TestStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"usage":{"input_tokens":3,"output_tokens":0}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
			{"message_stop", `{"type":"message_stop"}`},
		}
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	})

	var text, finish string
	for ev, err := range p.Stream(context.Background(), &provider.Request{
		Model:    "claude-test",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		switch ev.Type {
		case provider.EventTextDelta:
			text += ev.Delta
		case provider.EventDone:
			finish = ev.FinishReason
		}
	}

	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if finish != "end_turn" {
		t.Errorf("finish = %q, want end_turn", finish)
	}
}

func TestConvertMessages_MergesToolResults(t *testing.T) {
	msgs, system, err := convertMessages([]provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: "time and math?"},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "a", Name: "current_time", Arguments: "{}"},
			{ID: "b", Name: "calculator", Arguments: `{"expression":"1+1"}`},
		}},
		{Role: provider.RoleTool, ToolCallID: "a", Content: "noon"},
		{Role: provider.RoleTool, ToolCallID: "b", Content: "2"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}

	if len(system) != 1 {
		t.Errorf("expected 1 system block, got %d", len(system))
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (user, assistant, merged tool results), got %d", len(msgs))
	}
	if got := len(msgs[2].Content); got != 2 {
		t.Errorf("merged tool result blocks = %d, want 2", got)
	}
}

func TestConvertMessages_InvalidArguments(t *testing.T) {
	_, _, err := convertMessages([]provider.Message{
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "a", Name: "x", Arguments: "{broken"}}},
	})
	if err == nil {
		t.Fatal("expected error for invalid tool arguments")
	}
}

func TestStreamSkipsMalformedEvents(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"usage":{"input_tokens":3,"output_tokens":0}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,`},
			{"ping", `{"type":"ping"}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
			{"message_stop", `{"type":"message_stop"}`},
		}
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	})

	var text, finish string
	for ev, err := range p.Stream(context.Background(), &provider.Request{Model: "claude-test"}) {
		if err != nil {
			t.Fatalf("stream aborted after %q: %v", text, err)
		}
		switch ev.Type {
		case provider.EventTextDelta:
			text += ev.Delta
		case provider.EventDone:
			finish = ev.FinishReason
		}
	}

	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if finish != "end_turn" {
		t.Errorf("finish = %q, want end_turn", finish)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})

	var gotErr error
	for _, err := range p.Stream(context.Background(), &provider.Request{Model: "claude-test"}) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Fatal("expected an error")
	}
	if !api.IsTransient(gotErr) {
		t.Errorf("overloaded event should be transient: %v", gotErr)
	}
}
