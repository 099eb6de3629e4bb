package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	crewerrors "github.com/smkhb/Stock-Agent/pkg/errors"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
	if mock.Calls() != 1 {
		t.Errorf("expected 1 call, got %d", mock.Calls())
	}
	last, ok := mock.LastRequest()
	if !ok || last.Messages[0].Content != "Hi" {
		t.Errorf("expected last request to be recorded, got %+v", last)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected stop, got %q", resp.FinishReason)
	}
}

func TestScriptedMockProvider(t *testing.T) {
	boom := errors.New("rate limited")
	p := NewScriptedMockProvider().
		AddToolCalls(NewToolCall("c1", "stock_price_history", map[string]any{"symbol": "AAPL"})).
		AddError(boom).
		AddResponse("final")

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil || len(resp.ToolCalls) != 1 {
		t.Fatalf("expected tool call turn, got %+v, %v", resp, err)
	}
	args, err := resp.ToolCalls[0].ParseArguments()
	if err != nil || args["symbol"] != "AAPL" {
		t.Fatalf("unexpected args %v, %v", args, err)
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	resp, err = p.Chat(context.Background(), ChatRequest{})
	if err != nil || resp.Content != "final" {
		t.Fatalf("expected final content, got %+v, %v", resp, err)
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("expected exhausted script error")
	}
	if p.CallCount != 4 || len(p.Requests()) != 4 {
		t.Fatalf("expected 4 recorded calls, got %d", p.CallCount)
	}
}

func TestScriptedMockProviderRepeat(t *testing.T) {
	p := NewScriptedMockProvider("same")
	p.Repeat = true
	for i := 0; i < 3; i++ {
		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil || resp.Content != "same" {
			t.Fatalf("call %d: unexpected %+v, %v", i, resp, err)
		}
	}
}

func TestParseArgumentsEmpty(t *testing.T) {
	args, err := ToolCall{Function: FunctionCall{Name: "x"}}.ParseArguments()
	if err != nil || len(args) != 0 {
		t.Fatalf("expected empty map, got %v, %v", args, err)
	}
	if _, err := (ToolCall{Function: FunctionCall{Name: "x", Arguments: "{"}}).ParseArguments(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3.1" {
			t.Errorf("expected default model, got %q", req.Model)
		}
		if req.KeepAlive != "5m" || req.Options["temperature"] != 0.2 {
			t.Errorf("expected keep_alive and temperature, got %+v", req)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"news_search","arguments":{"query":"AAPL"}}}]},"done":true,"done_reason":"stop","eval_count":3,"prompt_eval_count":5}`))
	}))
	defer srv.Close()

	p := NewOllama(srv.URL+"/", WithOllamaTemperature(0.2), WithOllamaKeepAlive("5m"))
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "news"}}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "news_search" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	args, err := resp.ToolCalls[0].ParseArguments()
	if err != nil || args["query"] != "AAPL" {
		t.Fatalf("unexpected args %v, %v", args, err)
	}
	if resp.Usage.TotalTokens != 8 || resp.FinishReason != "stop" {
		t.Fatalf("unexpected usage %+v or finish %q", resp.Usage, resp.FinishReason)
	}
}

func TestOllamaChatStatusError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		recoverable bool
		contains    string
	}{
		{"missing model", http.StatusNotFound, `{"error":"model 'llama9' not found"}`, false, "model 'llama9' not found"},
		{"overloaded", http.StatusServiceUnavailable, "busy", true, "busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllama(srv.URL).Chat(context.Background(), ChatRequest{})
			ce := crewerrors.AsCrewError(err)
			if ce == nil || ce.Code != crewerrors.CodeGeneration {
				t.Fatalf("expected GENERATION_ERROR, got %v", err)
			}
			if ce.Recoverable != tt.recoverable || !strings.Contains(ce.Message, tt.contains) {
				t.Fatalf("unexpected error %+v", ce)
			}
		})
	}
}

func TestOllamaChatCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOllama(srv.URL).Chat(ctx, ChatRequest{}); !crewerrors.Is(err, crewerrors.CodeCanceled) {
		t.Fatalf("expected CANCELED, got %v", err)
	}
}

func TestFailingMockProvider(t *testing.T) {
	boom := errors.New("upstream down")
	if _, err := (&FailingMockProvider{Err: boom}).Chat(context.Background(), ChatRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if _, err := (&FailingMockProvider{}).Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected default error")
	}
}
