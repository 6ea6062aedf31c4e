package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      chatMsg `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatMsg struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Index    int      `json:"index"`
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function funcCall `json:"function"`
}

type funcCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// reply is the scripted answer for one request: either text or a single
// tool call.
type reply struct {
	text string
	call *toolCall
}

var (
	failPattern = regexp.MustCompile(`\[fail:(\d{3})\]`)
	mathPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([-+*/])\s*(-?\d+(?:\.\d+)?)`)
)

func newMux(tokenDelay time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		handleChatCompletions(w, r, tokenDelay)
	})
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return mux
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request, tokenDelay time.Duration) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Model == "" {
		req.Model = "mock-model"
	}

	last := lastUserMessage(&req)
	if m := failPattern.FindStringSubmatch(last); m != nil {
		status, _ := strconv.Atoi(m[1])
		writeError(w, status, "injected failure")
		return
	}

	rep := respond(&req)
	if req.Stream {
		delay := time.Duration(0)
		if strings.Contains(last, "[slow]") {
			delay = tokenDelay
		}
		stream(w, r, req.Model, rep, delay)
		return
	}

	msg := chatMsg{Role: "assistant"}
	finish := "stop"
	if rep.call != nil {
		msg.ToolCalls = []toolCall{*rep.call}
		finish = "tool_calls"
	} else {
		msg.Content = &rep.text
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []chatChoice{{Message: msg, FinishReason: finish}},
		Usage:   chatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

// respond picks the scripted reply for req.
func respond(req *chatRequest) reply {
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "tool" {
		return reply{text: "The answer is " + req.Messages[n-1].Content + "."}
	}

	last := lastUserMessage(req)
	if offersTool(req, "calculator") {
		if m := mathPattern.FindString(last); m != "" {
			args, _ := json.Marshal(map[string]string{"expression": m})
			return reply{call: &toolCall{
				ID:       "call_mock_1",
				Type:     "function",
				Function: funcCall{Name: "calculator", Arguments: string(args)},
			}}
		}
	}

	cleaned := strings.TrimSpace(strings.ReplaceAll(last, "[slow]", ""))
	if cleaned == "" {
		return reply{text: "Hello! How can I help?"}
	}
	return reply{text: "You said: " + cleaned}
}

func stream(w http.ResponseWriter, r *http.Request, model string, rep reply, delay time.Duration) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	send := func(delta map[string]any, finish any) {
		data, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-mock-stream",
			"object":  "chat.completion.chunk",
			"model":   model,
			"choices": []any{map[string]any{"index": 0, "delta": delta, "finish_reason": finish}},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		rc.Flush()
	}

	send(map[string]any{"role": "assistant"}, nil)

	if rep.call != nil {
		send(map[string]any{"tool_calls": []toolCall{*rep.call}}, nil)
		send(map[string]any{}, "tool_calls")
	} else {
		for _, token := range tokenize(rep.text) {
			if delay > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(delay):
				}
			}
			send(map[string]any{"content": token}, nil)
		}
		send(map[string]any{}, "stop")
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	rc.Flush()
}

// tokenize splits text into words, keeping the separating spaces.
func tokenize(text string) []string {
	var tokens []string
	for word := range strings.SplitAfterSeq(text, " ") {
		tokens = append(tokens, word)
	}
	return tokens
}

func handleModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "parley-mock"},
		},
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "mock_error"},
	})
}

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func offersTool(req *chatRequest, name string) bool {
	for _, t := range req.Tools {
		if t.Function.Name == name {
			return true
		}
	}
	return false
}
