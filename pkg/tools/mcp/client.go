package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

// Client wraps an MCP SDK session for a single server and implements
// registry.Provider.
type Client struct {
	cfg  config.MCPServerConfig
	base http.RoundTripper

	client  *mcp.Client
	session *mcp.ClientSession

	mu    sync.Mutex
	tools []tools.Tool
}

var _ registry.Provider = (*Client)(nil)

// NewClient creates a client for cfg. base is the HTTP transport used for
// the server connection; nil means http.DefaultTransport.
func NewClient(cfg config.MCPServerConfig, base http.RoundTripper) *Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{cfg: cfg, base: base}
}

// Connect establishes the session and discovers the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	transport, err := c.createTransport()
	if err != nil {
		return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
	}
	return c.ConnectWithTransport(ctx, transport)
}

// ConnectWithTransport establishes the session over transport and
// discovers the server's tools.
func (c *Client) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	c.client = mcp.NewClient(
		&mcp.Implementation{
			Name:    "parley",
			Version: "1.0.0",
		},
		&mcp.ClientOptions{
			Capabilities: &mcp.ClientCapabilities{},
		},
	)

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session

	if _, err := c.discover(ctx); err != nil {
		_ = session.Close()
		c.session = nil
		return err
	}
	return nil
}

func (c *Client) createTransport() (mcp.Transport, error) {
	httpClient := &http.Client{Transport: c.buildTransport()}

	switch c.cfg.Transport {
	case "sse":
		return &mcp.SSEClientTransport{Endpoint: c.cfg.URL, HTTPClient: httpClient}, nil
	case "streamable-http", "":
		return &mcp.StreamableClientTransport{Endpoint: c.cfg.URL, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
	}
}

// buildTransport layers static headers and OAuth credentials over the base
// transport.
func (c *Client) buildTransport() http.RoundTripper {
	var sources []HeaderSource
	if len(c.cfg.Headers) > 0 {
		sources = append(sources, StaticHeaders(c.cfg.Headers))
	}
	if c.cfg.Auth.Type == "oauth_client_credentials" {
		sources = append(sources, NewClientCredentials(c.cfg.Auth, &http.Client{Transport: c.base}))
	}
	if len(sources) == 0 {
		return c.base
	}
	return &headerTransport{base: c.base, sources: sources}
}

func (c *Client) discover(ctx context.Context) ([]tools.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var discovered []tools.Tool
	for t, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		def, err := convertTool(t)
		if err != nil {
			return nil, fmt.Errorf("converting tool %q from %q: %w", t.Name, c.cfg.Name, err)
		}
		discovered = append(discovered, &remoteTool{client: c, def: def})
	}

	c.tools = discovered
	slog.Info("discovered MCP tools", "server", c.cfg.Name, "count", len(discovered))
	return discovered, nil
}

// Name returns the provider name, "mcp:" followed by the server name.
func (c *Client) Name() string {
	return "mcp:" + c.cfg.Name
}

// Tools returns the tools discovered at connect time.
func (c *Client) Tools() []tools.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]tools.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Collectors returns nil.
func (c *Client) Collectors() []prometheus.Collector { return nil }

// CallTool executes a tool on the server. A result flagged as an error by
// the server is a permanent *api.ToolExecutionError; session failures are
// returned as-is.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP tool call on %q: %w", c.cfg.Name, err)
	}

	text := resultText(result)
	if result.IsError {
		return "", &api.ToolExecutionError{ToolName: name, Err: errors.New(text)}
	}
	return text, nil
}

// Close closes the MCP session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// ConnectAll connects to every configured server. Servers that fail to
// connect are logged and skipped.
func ConnectAll(ctx context.Context, servers []config.MCPServerConfig, base http.RoundTripper) []*Client {
	var clients []*Client
	for _, s := range servers {
		c := NewClient(s, base)
		if err := c.Connect(ctx); err != nil {
			slog.Error("failed to connect MCP server", "server", s.Name, "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return clients
}

// remoteTool is a tools.Tool backed by an MCP server.
type remoteTool struct {
	client *Client
	def    tools.Definition
}

func (t *remoteTool) Definition() tools.Definition { return t.def }

func (t *remoteTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.client.CallTool(ctx, t.def.Name, args)
}

// convertTool converts an MCP tool into a tools.Definition.
func convertTool(t *mcp.Tool) (tools.Definition, error) {
	var params json.RawMessage
	if t.InputSchema != nil {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return tools.Definition{}, fmt.Errorf("marshaling input schema: %w", err)
		}
		params = data
	}

	idempotent := false
	if a := t.Annotations; a != nil {
		idempotent = a.ReadOnlyHint || a.IdempotentHint
	}

	return tools.Definition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
		Transient:   true,
		Idempotent:  idempotent,
	}, nil
}

// resultText joins the text content of a tool result.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
