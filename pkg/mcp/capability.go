package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// ToolCaller abstracts MCP tool execution for capabilities.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Capability wraps an MCP tool as a tool.Capability.
type Capability struct {
	tool   mcp.Tool
	caller ToolCaller
	schema map[string]any
	tags   []string
}

// NewCapability builds a capability backed by an MCP tool definition and caller.
func NewCapability(t mcp.Tool, caller ToolCaller, tags ...string) (*Capability, error) {
	if t.Name == "" {
		return nil, errors.New(errors.CodeConfig, "mcp tool name is required", nil)
	}
	if caller == nil {
		return nil, errors.New(errors.CodeConfig, "mcp tool caller is required", nil).
			WithContext("tool", t.Name)
	}
	return &Capability{
		tool:   t,
		caller: caller,
		schema: inputSchema(t),
		tags:   append([]string(nil), tags...),
	}, nil
}

// Capabilities wraps the server tools selected by only (all when empty).
func Capabilities(ctx context.Context, c *Client, only []string, tags ...string) ([]tool.Capability, error) {
	tools, err := c.Tools(ctx, only)
	if err != nil {
		return nil, err
	}
	out := make([]tool.Capability, 0, len(tools))
	for _, t := range tools {
		capability, err := NewCapability(t, c, tags...)
		if err != nil {
			return nil, err
		}
		out = append(out, capability)
	}
	return out, nil
}

func (c *Capability) Name() string                { return c.tool.Name }
func (c *Capability) Description() string         { return c.tool.Description }
func (c *Capability) InputSchema() map[string]any { return c.schema }
func (c *Capability) Tags() []string              { return append([]string(nil), c.tags...) }

// Invoke calls the MCP tool after checking required arguments.
func (c *Capability) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := validateRequiredArgs(c.tool, args); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, err.Error(), nil).
			WithContext("tool", c.tool.Name)
	}

	result, err := c.caller.CallTool(ctx, c.tool.Name, args)
	if err != nil {
		switch {
		case stderrors.Is(err, context.DeadlineExceeded):
			return nil, errors.New(errors.CodeTimeout, "mcp tool call timed out", err).
				WithContext("tool", c.tool.Name).
				WithRecoverable(true)
		case stderrors.Is(err, context.Canceled) && ctx.Err() != nil:
			return nil, errors.New(errors.CodeCanceled, "mcp tool call canceled", err).
				WithContext("tool", c.tool.Name)
		}
		return nil, errors.New(errors.CodeUpstreamUnavailable, "mcp server call failed", err).
			WithContext("tool", c.tool.Name).
			WithRecoverable(true)
	}
	return c.toolResultToOutput(result)
}

func (c *Capability) toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New(errors.CodeEmptyResult, "mcp tool returned no result", nil).
			WithContext("tool", c.tool.Name)
	}
	if result.IsError {
		return nil, errors.New(errors.CodeUpstreamUnavailable,
			fmt.Sprintf("mcp tool returned error: %s", extractTextContent(result.Content)), nil).
			WithContext("tool", c.tool.Name).
			WithRecoverable(true)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); strings.TrimSpace(text) != "" {
		return text, nil
	}
	return nil, errors.New(errors.CodeEmptyResult, "mcp tool returned no content", nil).
		WithContext("tool", c.tool.Name)
}

func inputSchema(t mcp.Tool) map[string]any {
	var raw []byte
	if t.RawInputSchema != nil {
		raw = t.RawInputSchema
	} else {
		encoded, err := json.Marshal(t.InputSchema)
		if err != nil {
			return map[string]any{"type": "object"}
		}
		raw = encoded
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return map[string]any{"type": "object"}
	}
	return schema
}

func validateRequiredArgs(t mcp.Tool, args map[string]interface{}) error {
	schema := t.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required field %q", key)
		}
	}
	return nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ tool.Capability = (*Capability)(nil)
