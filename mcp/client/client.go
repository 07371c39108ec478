// Package client implements the client side of an MCP session over any
// transport.Transport: initialize, tools/list and tools/call.
package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/internal/protocol"
	"github.com/effective-security/toolpilot/mcp/transport"
	"github.com/effective-security/toolpilot/mcp/transport/stdio"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot/mcp", "client")

//go:generate mockgen -source=client.go -destination=../../mocks/mockclient/client_mock.gen.go -package mockclient

// ProtocolVersion is the MCP protocol revision announced in initialize.
const ProtocolVersion = "2024-11-05"

// ClientInfo identifies this client to tool servers.
var ClientInfo = Implementation{Name: "toolpilot", Version: "1.0.0"}

// RPCError is an error response returned by the tool server.
type RPCError = protocol.RPCError

// ErrConnectionClosed is returned when the server goes away mid-request.
var ErrConnectionClosed = protocol.ErrConnectionClosed

// Implementation is the name and version of an MCP peer.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// Tool is a tool advertised by tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Content is one content item of a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Resource *struct {
		URI  string `json:"uri"`
		Text string `json:"text,omitempty"`
	} `json:"resource,omitempty"`
}

// CallToolResult is the result of tools/call.
type CallToolResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// Text joins the textual rendering of all content items.
func (r *CallToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			parts = append(parts, c.Text)
		case "resource":
			if c.Resource != nil {
				parts = append(parts, strings.TrimSpace(c.Resource.URI+"\n"+c.Resource.Text))
			}
		default:
			parts = append(parts, "["+c.Type+" "+c.MimeType+"]")
		}
	}
	if len(parts) == 0 && r.StructuredContent != nil {
		js, _ := json.Marshal(r.StructuredContent)
		return string(js)
	}
	return strings.Join(parts, "\n")
}

// Session is one connected MCP session.
type Session interface {
	// ServerInfo returns the initialize result.
	ServerInfo() *InitializeResult
	// ListTools returns all tools, following pagination cursors.
	ListTools(ctx context.Context) ([]Tool, error)
	// CallTool invokes one tool.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*CallToolResult, error)
	// Close releases the session and its transport.
	Close() error
}

// Dialer opens sessions to tool servers.
type Dialer interface {
	Dial(ctx context.Context, launch stdio.Launch) (Session, error)
}

// Client is a Session over a transport.Transport.
type Client struct {
	proto   *protocol.Protocol
	timeout time.Duration
	info    *InitializeResult
}

var _ Session = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// RequestTimeout bounds each request. Zero means protocol.DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Connect starts the transport and performs the initialize handshake.
// On failure the transport is closed.
func Connect(ctx context.Context, tr transport.Transport, opts Options) (*Client, error) {
	proto := protocol.NewProtocol(&protocol.ProtocolOptions{DefaultTimeout: opts.RequestTimeout})
	c := &Client{
		proto:   proto,
		timeout: opts.RequestTimeout,
	}
	if err := proto.Connect(tr); err != nil {
		_ = tr.Close()
		return nil, err
	}
	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	raw, err := c.request(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      ClientInfo,
	})
	if err != nil {
		return errors.WithMessage(err, "initialize")
	}

	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return errors.Wrap(err, "failed to decode initialize result")
	}
	c.info = &res

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialized",
		"server", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)

	return c.proto.Notification("notifications/initialized", nil)
}

func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.proto.Request(ctx, method, params, &protocol.RequestOptions{Timeout: c.timeout})
}

// ServerInfo implements Session.
func (c *Client) ServerInfo() *InitializeResult {
	return c.info
}

// ListTools implements Session.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var list []Tool
	cursor := ""
	for {
		var params map[string]any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := c.request(ctx, "tools/list", params)
		if err != nil {
			return nil, errors.WithMessage(err, "tools/list")
		}
		var res ListToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, errors.Wrap(err, "failed to decode tools/list result")
		}
		list = append(list, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			return list, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool implements Session.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallToolResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	raw, err := c.request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "tools/call %s", name)
	}
	var res CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "failed to decode tools/call result")
	}
	return &res, nil
}

// Close implements Session.
func (c *Client) Close() error {
	return c.proto.Close()
}

// StdioDialer spawns one process per Dial.
type StdioDialer struct {
	Options Options
}

// Dial implements Dialer.
func (d StdioDialer) Dial(ctx context.Context, launch stdio.Launch) (Session, error) {
	c, err := Connect(ctx, stdio.New(launch), d.Options)
	if err != nil {
		return nil, err
	}
	return c, nil
}
