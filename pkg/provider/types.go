package provider

import "encoding/json"

// Message roles understood by every adapter. RoleTool carries a tool result
// back to the model and always has ToolCallID set.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Request is the backend-facing request. It contains only what the adapter
// needs to build one protocol call.
type Request struct {
	Model     string           `json:"model"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// Message is one conversation entry in adapter-neutral form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a function invocation requested by the model. Arguments is the
// raw JSON object text as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a callable tool. Parameters is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Result is a complete non-streaming response.
type Result struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// EventType classifies a streaming event from the backend.
type EventType int

const (
	EventTextDelta EventType = iota // Incremental text content
	EventToolCall                   // A fully assembled tool call
	EventDone                       // Stream finished
)

// String returns a short name for logs.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventToolCall:
		return "tool_call"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is a single streaming event from the backend.
type Event struct {
	Type EventType

	// Delta carries text for EventTextDelta.
	Delta string

	// ToolCall is populated for EventToolCall.
	ToolCall *ToolCall

	// FinishReason is populated on EventDone when the backend reports one.
	FinishReason string
}

// DecodeArguments parses tool call arguments into a map. Empty input yields
// an empty map.
func DecodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
