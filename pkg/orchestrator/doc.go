// Package orchestrator runs orchestrated calls: it resolves a backend,
// attaches a per-call tool interceptor, wraps non-streaming sends in the
// retry executor with a fallback response, and forwards streams as
// StreamingUpdate sequences that never retry and always end with exactly
// one final update.
package orchestrator
