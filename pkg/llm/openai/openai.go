// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai adapts the OpenAI chat-completions API to llm.Provider.
package openai

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
)

// DefaultModel is the model the crew runs on when none is configured.
const DefaultModel = "gpt-3.5-turbo"

// Provider talks to the OpenAI API or any compatible endpoint.
type Provider struct {
	client      openai.Client
	model       string
	temperature float64
	maxRetries  int
	reqOpts     []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the model used when a request names none.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey overrides OPENAI_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		if apiKey != "" {
			p.reqOpts = append(p.reqOpts, option.WithAPIKey(apiKey))
		}
	}
}

// WithTemperature sets the sampling temperature used when a request leaves
// it at zero.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithMaxRetries enables SDK-level retries. The default is none: a failed
// call costs the agent one iteration.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// New creates a provider. Without WithAPIKey the SDK reads OPENAI_API_KEY.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(append(p.reqOpts, option.WithMaxRetries(p.maxRetries))...)
	return p
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := p.buildParams(req)
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(ctx, params.Model, err)
	}
	return fromCompletion(completion), nil
}

// classify maps SDK failures onto crew errors. Rate limits, conflicts,
// request timeouts and server errors are recoverable.
func classify(ctx context.Context, model string, err error) error {
	if ctx.Err() != nil {
		return resilience.ContextError(ctx, "openai chat")
	}
	ce := errors.New(errors.CodeGeneration, "openai chat completion failed", err).
		WithAttribute("llm.model", model)

	var apiErr *openai.Error
	if !stderrors.As(err, &apiErr) {
		return ce.WithRecoverable(true)
	}
	status := apiErr.StatusCode
	ce = ce.WithAttribute("http.status_code", strconv.Itoa(status))
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout,
		status == http.StatusConflict, status >= http.StatusInternalServerError:
		return ce.WithRecoverable(true)
	default:
		return ce.WithRecoverable(false)
	}
}

func (p *Provider) buildParams(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		params.Messages = append(params.Messages, toMessage(msg))
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Function.Name,
				Description: openai.String(t.Function.Description),
				Parameters:  openai.FunctionParameters(t.Function.Parameters),
			},
		})
	}
	return params
}

func toMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: assistantToolCalls(msg)}
	default:
		return openai.UserMessage(msg.Content)
	}
}

// assistantToolCalls replays an assistant turn that requested capabilities,
// so the tool messages that follow it have a call to answer.
func assistantToolCalls(msg llm.Message) *openai.ChatCompletionAssistantMessageParam {
	out := &openai.ChatCompletionAssistantMessageParam{
		ToolCalls: make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls)),
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	if msg.Content != "" {
		out.Content.OfString = param.NewOpt(msg.Content)
	}
	return out
}

func fromCompletion(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	resp.FinishReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}

var _ llm.Provider = (*Provider)(nil)
