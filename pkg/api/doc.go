// Package api defines the data model shared by every layer of parley.
//
// Messages, responses, streaming updates and tool call records are plain
// values created per call; nothing in this package performs I/O or holds
// state across calls. The package also carries the error taxonomy used for
// retry classification and HTTP status mapping.
//
// Core types:
//   - [Message]: one immutable conversation turn (system, user or assistant)
//   - [Response]: the aggregated result of a non-streaming orchestrated call
//   - [StreamingUpdate]: one element of a live streaming sequence
//   - [ToolCallRecord]: metadata captured for every tool invocation
//   - [APIError]: the JSON error envelope returned to HTTP clients
package api
