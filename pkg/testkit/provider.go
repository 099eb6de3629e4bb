// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package testkit provides language-model doubles, stub capabilities and
// assertion helpers for testing agents and crews without network access.
package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/smkhb/Stock-Agent/pkg/llm"
)

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
	Error     error
	Usage     llm.Usage
	// Condition restricts the response to matching requests.
	Condition func(req llm.ChatRequest) bool
}

// ScenarioProvider is a mock provider for crew scenarios. Standing rules
// answer every matching request; queued responses are consumed in order.
// It is safe for concurrent use.
type ScenarioProvider struct {
	mu           sync.Mutex
	rules        []ScriptedResponse
	responses    []ScriptedResponse
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// NewScenarioProvider creates a new scenario provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// Answer always replies with content.
func Answer(content string) *ScenarioProvider {
	return NewScenarioProvider().When(nil, ScriptedResponse{Content: content})
}

// AddResponse queues a response to be returned.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddToolCallResponse queues a response with tool calls.
func (p *ScenarioProvider) AddToolCallResponse(toolCalls ...llm.ToolCall) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{ToolCalls: toolCalls})
}

// AddErrorResponse queues an error response.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// When adds a standing rule. A nil cond matches every request. Rules are
// checked in the order they were added, before the queue.
func (p *ScenarioProvider) When(cond func(req llm.ChatRequest) bool, resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp.Condition = cond
	p.rules = append(p.rules, resp)
	return p
}

// OnTask answers every request whose task prompt contains substr.
func (p *ScenarioProvider) OnTask(substr, content string) *ScenarioProvider {
	return p.When(TaskContains(substr), ScriptedResponse{Content: content})
}

// WithDefaultError sets the error to return when nothing matches.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc sets a custom function for handling chat requests. It is
// called without holding the provider lock.
func (p *ScenarioProvider) WithChatFunc(fn func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	handler := p.onChat
	if handler != nil {
		p.mu.Unlock()
		return handler(ctx, req)
	}
	resp, ok := p.next(req)
	defaultErr := p.defaultError
	calls := len(p.requests)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		if defaultErr != nil {
			return nil, defaultErr
		}
		return nil, fmt.Errorf("no scripted response matches request (call %d)", calls)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &llm.ChatResponse{
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	}, nil
}

// next must be called with the lock held.
func (p *ScenarioProvider) next(req llm.ChatRequest) (ScriptedResponse, bool) {
	for _, r := range p.rules {
		if r.Condition == nil || r.Condition(req) {
			return r, true
		}
	}
	for i, r := range p.responses {
		if r.Condition == nil || r.Condition(req) {
			p.responses = append(p.responses[:i:i], p.responses[i+1:]...)
			return r, true
		}
	}
	return ScriptedResponse{}, false
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.ChatRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// LastRequest returns the most recent request.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// TaskContains matches requests whose first user message contains substr.
func TaskContains(substr string) func(req llm.ChatRequest) bool {
	return func(req llm.ChatRequest) bool {
		return strings.Contains(TaskPrompt(req), substr)
	}
}

// TaskPrompt returns the first user message of a request.
func TaskPrompt(req llm.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

// Blocking returns a provider that waits for the request context to end.
func Blocking() *ScenarioProvider {
	return NewScenarioProvider().WithChatFunc(func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}
