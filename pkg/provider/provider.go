package provider

import (
	"context"
	"iter"
)

// Provider abstracts a single chat completion protocol. Adapters perform
// exactly one round trip per call: tool execution and retries belong to the
// caller.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the adapter identifier (e.g., "openai", "anthropic").
	Name() string

	// Complete performs non-streaming inference.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Stream performs streaming inference. Iteration stops after an
	// EventDone event, after the first non-nil error, or when the consumer
	// breaks out of the loop. Breaking releases the underlying connection.
	Stream(ctx context.Context, req *Request) iter.Seq2[Event, error]

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}
