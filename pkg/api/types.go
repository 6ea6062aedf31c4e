package api

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversation turn. Callers supply the full ordered
// list on every request; messages are never stored between calls.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// NewMessage creates a message with a fresh ID and the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Response is the aggregated result of one non-streaming call.
type Response struct {
	Message      Message          `json:"message"`
	ModelUsed    string           `json:"model_used"`
	ProviderUsed string           `json:"provider_used"`
	ToolCalls    []ToolCallRecord `json:"tool_calls"`
}

// ToolCallRecord captures one tool invocation made during generation.
type ToolCallRecord struct {
	ToolName      string         `json:"tool_name"`
	Arguments     map[string]any `json:"arguments"`
	Result        string         `json:"result"`
	ExecutionTime time.Duration  `json:"-"`
}

// MarshalJSON renders ExecutionTime as fractional milliseconds.
func (r ToolCallRecord) MarshalJSON() ([]byte, error) {
	type plain ToolCallRecord
	return json.Marshal(struct {
		plain
		ExecutionTimeMS float64 `json:"execution_time_ms"`
	}{
		plain:           plain(r),
		ExecutionTimeMS: float64(r.ExecutionTime) / float64(time.Millisecond),
	})
}

// UpdateType discriminates streaming updates.
type UpdateType string

const (
	UpdateContent          UpdateType = "content"
	UpdateToolCallStart    UpdateType = "tool_call_start"
	UpdateToolCallComplete UpdateType = "tool_call_complete"
	UpdateError            UpdateType = "error"
)

// StreamingUpdate is one element of a streaming sequence. Exactly one
// update per sequence has IsFinal set, and it is always the last one.
type StreamingUpdate struct {
	Type     UpdateType     `json:"type"`
	Content  string         `json:"content"`
	ToolName string         `json:"tool_name,omitempty"`
	IsFinal  bool           `json:"is_final"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentUpdate wraps a text delta.
func ContentUpdate(text string) StreamingUpdate {
	return StreamingUpdate{Type: UpdateContent, Content: text}
}

// FinalUpdate is the sentinel that terminates a successful stream.
func FinalUpdate() StreamingUpdate {
	return StreamingUpdate{Type: UpdateContent, IsFinal: true}
}

// ErrorUpdate is the sentinel that terminates a failed stream.
func ErrorUpdate(message string, metadata map[string]any) StreamingUpdate {
	return StreamingUpdate{Type: UpdateError, Content: message, IsFinal: true, Metadata: metadata}
}

// ToolStartUpdate announces a tool invocation.
func ToolStartUpdate(toolName string, arguments map[string]any) StreamingUpdate {
	u := StreamingUpdate{Type: UpdateToolCallStart, ToolName: toolName}
	if len(arguments) > 0 {
		u.Metadata = map[string]any{"arguments": arguments}
	}
	return u
}

// ToolCompleteUpdate reports a finished tool invocation.
func ToolCompleteUpdate(rec ToolCallRecord) StreamingUpdate {
	return StreamingUpdate{
		Type:     UpdateToolCallComplete,
		Content:  rec.Result,
		ToolName: rec.ToolName,
		Metadata: map[string]any{
			"execution_time_ms": float64(rec.ExecutionTime) / float64(time.Millisecond),
		},
	}
}

// BackendMetadata is what a backend client reports from Describe.
type BackendMetadata struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type,omitempty"`
	Model       string `json:"model,omitempty"`
}

// ModelInfo describes one configured model of a backend.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// BackendInfo pairs backend metadata with its configured models for
// discovery endpoints.
type BackendInfo struct {
	BackendMetadata
	Models []ModelInfo `json:"models"`
	// Default marks the backend used when a request names none.
	Default bool `json:"default,omitempty"`
}

// ChatRequest is the input of a send or stream call. Empty Provider and
// Model fall back to the configured defaults.
type ChatRequest struct {
	Provider string    `json:"provider,omitempty"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

// TemplateRequest is the input of a template execution.
type TemplateRequest struct {
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Variables map[string]any `json:"variables"`
}
