package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedTurn is one scripted model reply. A turn carries either content,
// tool calls or an error.
type ScriptedTurn struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
}

// ScriptedMockProvider returns a pre-defined sequence of turns.
// Useful for testing multi-turn agent loops.
type ScriptedMockProvider struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	requests []ChatRequest
	// Repeat keeps replaying the last turn once the script is exhausted.
	Repeat bool
	// CallCount tracks how many times Chat has been called
	CallCount int
}

// NewScriptedMockProvider creates a provider replying with the given contents in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.turns = append(s.turns, ScriptedTurn{Content: r})
	}
	return s
}

// Chat pops the next scripted turn.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.turns) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	turn := s.turns[0]
	if len(s.turns) > 1 || !s.Repeat {
		s.turns = s.turns[1:]
	}
	if turn.Err != nil {
		return nil, turn.Err
	}

	return &ChatResponse{
		Content:   turn.Content,
		ToolCalls: turn.ToolCalls,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// AddResponse appends a content reply to the script.
func (s *ScriptedMockProvider) AddResponse(response string) *ScriptedMockProvider {
	return s.AddTurn(ScriptedTurn{Content: response})
}

// AddToolCalls appends a reply requesting the given tool calls.
func (s *ScriptedMockProvider) AddToolCalls(calls ...ToolCall) *ScriptedMockProvider {
	return s.AddTurn(ScriptedTurn{ToolCalls: calls})
}

// AddError appends a failing reply.
func (s *ScriptedMockProvider) AddError(err error) *ScriptedMockProvider {
	return s.AddTurn(ScriptedTurn{Err: err})
}

// AddTurn appends a turn to the script.
func (s *ScriptedMockProvider) AddTurn(turn ScriptedTurn) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return s
}

// Requests returns a copy of every request received.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// Remaining returns how many scripted turns are left.
func (s *ScriptedMockProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}
