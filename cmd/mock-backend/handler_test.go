package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newMux(0).ServeHTTP(rec, req)
	return rec
}

func TestEcho(t *testing.T) {
	rec := post(t, `{"messages":[{"role":"user","content":"hi there"}]}`)
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got := *resp.Choices[0].Message.Content; got != "You said: hi there" {
		t.Errorf("content = %q", got)
	}
}

func TestCalculatorRoundTrip(t *testing.T) {
	tools := `"tools":[{"type":"function","function":{"name":"calculator"}}]`

	rec := post(t, `{"messages":[{"role":"user","content":"What's 2 + 2?"}],`+tools+`}`)
	var resp chatResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" || len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("expected a tool call, got %+v", choice)
	}
	if args := choice.Message.ToolCalls[0].Function.Arguments; args != `{"expression":"2 + 2"}` {
		t.Errorf("arguments = %s", args)
	}

	rec = post(t, `{"messages":[{"role":"user","content":"What's 2 + 2?"},{"role":"assistant","content":null},{"role":"tool","content":"4","tool_call_id":"call_mock_1"}],`+tools+`}`)
	resp = chatResponse{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if got := *resp.Choices[0].Message.Content; got != "The answer is 4." {
		t.Errorf("content = %q", got)
	}
}

func TestInjectedFailure(t *testing.T) {
	rec := post(t, `{"messages":[{"role":"user","content":"please [fail:503]"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStreaming(t *testing.T) {
	rec := post(t, `{"stream":true,"messages":[{"role":"user","content":"a b"}]}`)
	body := rec.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream should end with [DONE]: %q", body)
	}
	var text strings.Builder
	for line := range strings.SplitSeq(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
	}
	if text.String() != "You said: a b" {
		t.Errorf("streamed text = %q", text.String())
	}
}
