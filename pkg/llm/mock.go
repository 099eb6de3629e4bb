package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider answers every request with Response, or Err, or whatever
// ChatFunc returns when set. It records the requests it receives.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	switch {
	case m.ChatFunc != nil:
		return m.ChatFunc(ctx, req)
	case m.Err != nil:
		return nil, m.Err
	}
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content)
	}
	return &ChatResponse{
		Content:      m.Response,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     prompt / 4,
			CompletionTokens: len(m.Response) / 4,
			TotalTokens:      (prompt + len(m.Response)) / 4,
		},
	}, nil
}

// Calls returns how many times Chat was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, if any.
func (m *MockProvider) LastRequest() (ChatRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ChatRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// FailingMockProvider fails every call with Err, or a generic error.
type FailingMockProvider struct {
	Err error
}

var errMockFailure = errors.New("llm: mock provider failure")

// Chat implements Provider.
func (f *FailingMockProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, errMockFailure
}
