// Package mcp connects to external MCP (Model Context Protocol) servers and
// exposes their tools to the tool registry.
//
// Each configured server becomes one registry provider. Tools are
// discovered once when the connection is established. Remote tools are
// classified as transient, since failures are usually transport related;
// they count as idempotent only when the server annotates them with
// readOnlyHint or idempotentHint.
//
// The package wraps the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk) and supports the SSE and
// streamable HTTP transports, optional static headers and OAuth 2.0
// client credentials.
package mcp
