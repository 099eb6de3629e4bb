package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
)

// OllamaProvider chats with a local Ollama daemon through /api/chat.
type OllamaProvider struct {
	baseURL     string
	model       string
	temperature float64
	keepAlive   string
	client      *http.Client
}

type OllamaOption func(*OllamaProvider)

func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithOllamaHTTPClient(client *http.Client) OllamaOption {
	return func(p *OllamaProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithOllamaTemperature applies when a request leaves temperature at zero.
func WithOllamaTemperature(t float64) OllamaOption {
	return func(p *OllamaProvider) { p.temperature = t }
}

// WithOllamaKeepAlive controls how long the daemon keeps the model loaded,
// e.g. "10m". Empty uses the daemon default.
func WithOllamaKeepAlive(d string) OllamaOption {
	return func(p *OllamaProvider) { p.keepAlive = d }
}

// NewOllama returns a provider for the daemon at baseURL, or the local
// default when empty.
func NewOllama(baseURL string, opts ...OllamaOption) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	p := &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   DefaultOllamaModel,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wire types for /api/chat. Tool call arguments travel as JSON objects, not
// the encoded strings ToolCall carries.
type (
	ollamaChatRequest struct {
		Model     string          `json:"model"`
		Messages  []ollamaMessage `json:"messages"`
		Stream    bool            `json:"stream"`
		Tools     []Tool          `json:"tools,omitempty"`
		Options   map[string]any  `json:"options,omitempty"`
		KeepAlive string          `json:"keep_alive,omitempty"`
	}
	ollamaMessage struct {
		Role      Role             `json:"role"`
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	}
	ollamaToolCall struct {
		Function ollamaFunction `json:"function"`
	}
	ollamaFunction struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	ollamaChatResponse struct {
		Message         ollamaMessage `json:"message"`
		DoneReason      string        `json:"done_reason"`
		EvalCount       int           `json:"eval_count"`
		PromptEvalCount int           `json:"prompt_eval_count"`
		Error           string        `json:"error"`
	}
)

// Chat implements Provider.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, errors.New(errors.CodeGeneration, "encode ollama request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "build ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.ContextError(ctx, "ollama chat")
		}
		return nil, errors.New(errors.CodeGeneration, "ollama unreachable", err).
			WithAttribute("llm.model", p.model).
			WithRecoverable(true)
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return nil, errors.Newf(errors.CodeGeneration, "ollama returned %d: %s", resp.StatusCode, msg).
			WithAttribute("http.status_code", strconv.Itoa(resp.StatusCode)).
			WithRecoverable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.CodeGeneration, "decode ollama response", err).WithRecoverable(true)
	}
	return out.toChatResponse(), nil
}

func (p *OllamaProvider) buildRequest(req ChatRequest) ollamaChatRequest {
	out := ollamaChatRequest{
		Model:     req.Model,
		Messages:  make([]ollamaMessage, 0, len(req.Messages)),
		Tools:     req.Tools,
		KeepAlive: p.keepAlive,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}
	if temperature != 0 {
		out.Options = map[string]any{"temperature": temperature}
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{Function: ollamaFunction{Name: tc.Function.Name, Arguments: args}})
		}
		out.Messages = append(out.Messages, om)
	}
	return out
}

// toChatResponse numbers tool calls itself since Ollama sends no call ids.
func (r ollamaChatResponse) toChatResponse() *ChatResponse {
	out := &ChatResponse{
		Content:      r.Message.Content,
		FinishReason: r.DoneReason,
		Usage: Usage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		},
	}
	for i, tc := range r.Message.ToolCalls {
		args := string(tc.Function.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:       fmt.Sprintf("call_%d", i),
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return out
}

var _ Provider = (*OllamaProvider)(nil)
