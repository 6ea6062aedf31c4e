// Package backend provides the uniform backend client contract (send,
// stream, describe) over the provider drivers, the bounded tool calling
// loop that runs on top of them, the system instruction variant, and the
// registry that resolves a (backend, model) pair to a fresh client.
package backend

import (
	"context"
	"iter"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/tools"
)

// Client is one backend bound to one model. Clients hold no mutable shared
// state and are safe for concurrent use.
type Client interface {
	// Send performs a complete generation, running tools as the backend
	// requests them, and returns the final assistant message.
	Send(ctx context.Context, messages []api.Message, opts ...CallOption) (*api.Response, error)

	// Stream performs a streaming generation. The sequence is finite and
	// cannot be restarted; each element is read from the network only when
	// the consumer asks for it. Cancelling ctx ends the sequence without
	// an error.
	Stream(ctx context.Context, messages []api.Message, opts ...CallOption) iter.Seq2[Chunk, error]

	// Describe returns static metadata about the backend.
	Describe() api.BackendMetadata
}

// ChunkKind discriminates stream chunks.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkToolStart
	ChunkToolComplete
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkToolStart:
		return "tool_start"
	case ChunkToolComplete:
		return "tool_complete"
	}
	return "unknown"
}

// Chunk is one element of a backend stream.
type Chunk struct {
	Kind ChunkKind

	// Text is set for ChunkText.
	Text string

	// ToolName and Arguments are set for ChunkToolStart.
	ToolName  string
	Arguments map[string]any

	// Record is set for ChunkToolComplete.
	Record api.ToolCallRecord
}

// CallOption configures a single Send or Stream call.
type CallOption func(*callOptions)

type callOptions struct {
	tools tools.Executor
}

// WithTools offers the executor's tools to the backend for this call.
// Pass the per-call tools.Interceptor to capture tool call records.
func WithTools(exec tools.Executor) CallOption {
	return func(o *callOptions) { o.tools = exec }
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
