// Package mcp exposes tools served by Model Context Protocol servers as crew
// capabilities, and serves crew capabilities over MCP.
package mcp

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 30 * time.Second
	// maxToolPages bounds tools/list pagination against servers that never
	// stop returning a cursor.
	maxToolPages = 32
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout bounds every request to the server.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithToolCacheTTL sets how long a tools/list answer is reused. Zero
// disables caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithClientInfo sets the name and version announced in the handshake.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.info.Name = name
		}
		if version != "" {
			c.info.Version = version
		}
	}
}

// Client talks to one MCP server. It does not retry; the crew tool invoker
// owns retries and backoff.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	cacheTTL  time.Duration
	info      mcp.Implementation

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient wraps an MCP client that has completed its handshake.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		cacheTTL:  defaultCacheTTL,
		info:      mcp.Implementation{Name: "stockcrew", Version: "dev"},
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewStdioClient starts command as a subprocess and performs the handshake.
func NewStdioClient(ctx context.Context, command string, env, args []string, opts ...ClientOption) (*Client, error) {
	stdio, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "start mcp server", err).
			WithContext("command", command)
	}
	c := NewClient(stdio, opts...)
	if err := c.initialize(ctx); err != nil {
		_ = stdio.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = c.info
	if _, err := c.mcpClient.Initialize(ctx, req); err != nil {
		return errors.New(errors.CodeUpstreamUnavailable, "mcp initialize", err)
	}
	return nil
}

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		tools  []mcp.Tool
		cursor mcp.Cursor
	)
	for page := 0; page < maxToolPages; page++ {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		resp, err := c.mcpClient.ListTools(reqCtx, req)
		if err != nil {
			return nil, errors.New(errors.CodeUpstreamUnavailable, "mcp tools/list", err)
		}
		tools = append(tools, resp.Tools...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	c.storeTools(tools)
	return tools, nil
}

// Tools returns the tools named in only, in server order. Empty only returns
// all tools. Names the server does not offer are a CONFIG_ERROR.
func (c *Client) Tools(ctx context.Context, only []string) ([]mcp.Tool, error) {
	tools, err := c.ListTools(ctx)
	if err != nil || len(only) == 0 {
		return tools, err
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	var out []mcp.Tool
	for _, t := range tools {
		if wanted[t.Name] {
			out = append(out, t)
			delete(wanted, t.Name)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, errors.Newf(errors.CodeConfig, "mcp server does not offer %s", strings.Join(missing, ", ")).
			WithContext("missing", missing)
	}
	return out, nil
}

// CallTool runs a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mcpClient.CallTool(reqCtx, req)
}

// Close stops the server connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toolsCache == nil || time.Now().After(c.cacheExpiry) {
		return nil
	}
	return append([]mcp.Tool(nil), c.toolsCache...)
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = append(make([]mcp.Tool, 0, len(tools)), tools...)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
