package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for tool calls.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server publishes crew capabilities as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	logger    *slog.Logger
	names     map[string]bool
}

// NewServer creates a server announcing name and version.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		logger:    slog.Default(),
		names:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register publishes caps. Capabilities shared between agents appear once;
// the first registration of a name wins.
func (s *Server) Register(caps ...tool.Capability) error {
	for _, c := range caps {
		if s.names[c.Name()] {
			continue
		}
		raw, err := json.Marshal(c.InputSchema())
		if err != nil {
			return errors.New(errors.CodeConfig, fmt.Sprintf("encode schema for %s", c.Name()), err)
		}
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(c.Name(), c.Description(), raw), s.handler(c))
		s.names[c.Name()] = true
	}
	return nil
}

// Tools lists the registered tool names.
func (s *Server) Tools() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	return out
}

// handler invokes c and reports failures as tool error results carrying the
// crew error code, so remote agents can tell bad input from outages.
func (s *Server) handler(c tool.Capability) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		out, err := c.Invoke(ctx, args)
		if err != nil {
			ce := errors.AsCrewError(err)
			s.logger.WarnContext(ctx, "mcp.tool.failed",
				slog.String("tool", c.Name()),
				slog.String("code", string(ce.Code)),
				slog.Any("error", err))
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", ce.Code, ce.Message)), nil
		}
		s.logger.DebugContext(ctx, "mcp.tool.called", slog.String("tool", c.Name()))
		return mcp.NewToolResultText(tool.Render(out)), nil
	}
}

// Serve speaks MCP over in and out until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// ServeStdio serves on the process stdio and exits on SIGINT or SIGTERM.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
