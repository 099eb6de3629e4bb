// Package llm defines the language-model boundary used by agents and the
// delegation manager. Implementations are swappable: mock providers for tests,
// Ollama over HTTP, and OpenAI in the llm/openai subpackage.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolType is the kind of a tool definition. Only functions are offered.
type ToolType string

const ToolTypeFunction ToolType = "function"

// FunctionDef describes a capability to the model. Parameters holds the
// JSON schema of the capability input.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool is a capability offered to the model for one request.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionCall names the capability the model wants and its JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one capability invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one turn of the conversation an agent builds for a task.
// Tool messages answer the call identified by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest is a single generation call. Empty Model and zero
// Temperature fall back to the provider defaults.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse is either a draft answer (Content) or a set of tool calls.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

// WantsTools reports whether the model asked for capabilities instead of
// answering.
func (r *ChatResponse) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the generation boundary. Implementations must be safe for
// concurrent use: agents running in parallel share one provider.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// FunctionTool builds a function tool definition.
func FunctionTool(name, description string, schema map[string]any) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
	}
}

// NewToolCall builds a function tool call with JSON-encoded arguments.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil || args == nil {
		raw = []byte("{}")
	}
	return ToolCall{
		ID:   id,
		Type: ToolTypeFunction,
		Function: FunctionCall{
			Name:      name,
			Arguments: string(raw),
		},
	}
}

// ParseArguments decodes the JSON arguments of a tool call. Empty arguments
// decode to an empty map.
func (c ToolCall) ParseArguments() (map[string]any, error) {
	raw := strings.TrimSpace(c.Function.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %q: %w", c.Function.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
