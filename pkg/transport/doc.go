// Package transport holds what the parley HTTP layer needs independently
// of routing: the Service contract implemented by the orchestrator, the
// mapping of domain errors onto HTTP statuses and JSON envelopes, the
// registry of in-flight streams for explicit cancellation, and the
// request-scoped middleware (recovery, request IDs, access logging).
package transport
