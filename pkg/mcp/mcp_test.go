package mcp

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	crewerrors "github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/testkit"
	"github.com/smkhb/Stock-Agent/pkg/tool/news"
)

const mcpStdioHelperEnv = "STOCKCREW_MCP_STDIO_HELPER"

type stubCaller struct {
	result *mcpgo.CallToolResult
	err    error
	calls  int
	args   map[string]interface{}
}

func (s *stubCaller) CallTool(_ context.Context, _ string, args map[string]interface{}) (*mcpgo.CallToolResult, error) {
	s.calls++
	s.args = args
	return s.result, s.err
}

func searchTool() mcpgo.Tool {
	return mcpgo.NewTool("web_search",
		mcpgo.WithDescription("Search the web"),
		mcpgo.WithString("query", mcpgo.Required()),
	)
}

func textResult(text string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: text}},
	}
}

func TestNewCapabilityRequiresNameAndCaller(t *testing.T) {
	if _, err := NewCapability(mcpgo.Tool{}, &stubCaller{}); !crewerrors.Is(err, crewerrors.CodeConfig) {
		t.Fatalf("expected CONFIG_ERROR for missing name, got %v", err)
	}
	if _, err := NewCapability(searchTool(), nil); !crewerrors.Is(err, crewerrors.CodeConfig) {
		t.Fatalf("expected CONFIG_ERROR for missing caller, got %v", err)
	}
}

func TestCapabilityMetadata(t *testing.T) {
	c, err := NewCapability(searchTool(), &stubCaller{}, "news", "web")
	if err != nil {
		t.Fatalf("NewCapability: %v", err)
	}
	if c.Name() != "web_search" || c.Description() != "Search the web" {
		t.Fatalf("unexpected metadata %q %q", c.Name(), c.Description())
	}
	if c.InputSchema()["type"] != "object" {
		t.Fatalf("expected object schema, got %v", c.InputSchema())
	}
	if len(c.Tags()) != 2 {
		t.Fatalf("expected tags, got %v", c.Tags())
	}
}

func TestCapabilityInvoke(t *testing.T) {
	tests := []struct {
		name    string
		caller  *stubCaller
		args    map[string]any
		want    any
		code    crewerrors.ErrorCode
		noCalls bool
	}{
		{
			name:   "text result",
			caller: &stubCaller{result: textResult("AAPL up 3%")},
			args:   map[string]any{"query": "AAPL"},
			want:   "AAPL up 3%",
		},
		{
			name:    "missing required",
			caller:  &stubCaller{result: textResult("unused")},
			args:    map[string]any{},
			code:    crewerrors.CodeInvalidInput,
			noCalls: true,
		},
		{
			name:   "transport failure",
			caller: &stubCaller{err: errors.New("broken pipe")},
			args:   map[string]any{"query": "AAPL"},
			code:   crewerrors.CodeUpstreamUnavailable,
		},
		{
			name:   "tool error result",
			caller: &stubCaller{result: &mcpgo.CallToolResult{IsError: true, Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "rate limited"}}}},
			args:   map[string]any{"query": "AAPL"},
			code:   crewerrors.CodeUpstreamUnavailable,
		},
		{
			name:   "empty content",
			caller: &stubCaller{result: textResult("  ")},
			args:   map[string]any{"query": "AAPL"},
			code:   crewerrors.CodeEmptyResult,
		},
		{
			name:   "deadline",
			caller: &stubCaller{err: context.DeadlineExceeded},
			args:   map[string]any{"query": "AAPL"},
			code:   crewerrors.CodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCapability(searchTool(), tt.caller)
			if err != nil {
				t.Fatalf("NewCapability: %v", err)
			}
			out, err := c.Invoke(context.Background(), tt.args)
			if tt.code != "" {
				if crewerrors.CodeOf(err) != tt.code {
					t.Fatalf("expected %s, got %v", tt.code, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			} else if out != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, out)
			}
			if tt.noCalls && tt.caller.calls != 0 {
				t.Fatalf("expected no server call, got %d", tt.caller.calls)
			}
		})
	}
}

func TestCapabilityUpstreamErrorsAreRecoverable(t *testing.T) {
	c, _ := NewCapability(searchTool(), &stubCaller{err: errors.New("eof")})
	_, err := c.Invoke(context.Background(), map[string]any{"query": "x"})
	if ce := crewerrors.AsCrewError(err); ce == nil || !ce.Recoverable {
		t.Fatalf("expected recoverable error, got %v", err)
	}
}

func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}

	capability, err := news.NewCapability(news.NewFixtureSource(news.Article{
		Title:   "Apple beats earnings expectations",
		Summary: "AAPL rallies after strong quarter",
		Source:  "fixture",
	}))
	if err != nil {
		os.Exit(1)
	}
	server := NewServer("test-stdio", "1.0.0")
	if err := server.Register(capability, capability); err != nil {
		os.Exit(1)
	}
	if err := server.ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestStdioRoundTrip(t *testing.T) {
	t.Setenv(mcpStdioHelperEnv, "1")

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	ctx := context.Background()
	client, err := NewStdioClient(ctx, exe, os.Environ(), []string{"-test.run", "TestHelperMCPStdioServer"})
	if err != nil {
		t.Fatalf("NewStdioClient: %v", err)
	}
	defer client.Close()

	caps, err := Capabilities(ctx, client, nil, "news")
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if len(caps) != 1 || caps[0].Name() != news.ToolName {
		t.Fatalf("expected %s capability, got %+v", news.ToolName, caps)
	}

	out, err := caps[0].Invoke(ctx, map[string]any{"query": "AAPL"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	text, ok := out.(string)
	if !ok || !strings.Contains(text, "Apple beats earnings") {
		t.Fatalf("unexpected output %v", out)
	}

	filtered, err := Capabilities(ctx, client, []string{news.ToolName})
	if err != nil || len(filtered) != 1 {
		t.Fatalf("Capabilities filtered: %v (%d)", err, len(filtered))
	}
	if _, err := Capabilities(ctx, client, []string{news.ToolName, "other"}); !crewerrors.Is(err, crewerrors.CodeConfig) {
		t.Fatalf("expected CONFIG_ERROR for a tool the server does not offer, got %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	c := NewClient(nil, WithClientInfo("stockcrew", "1.2.3"), WithTimeout(time.Second), WithToolCacheTTL(0))
	if c.info.Name != "stockcrew" || c.info.Version != "1.2.3" {
		t.Fatalf("unexpected client info %+v", c.info)
	}
	if c.timeout != time.Second || c.cacheTTL != 0 {
		t.Fatalf("unexpected timeouts %v %v", c.timeout, c.cacheTTL)
	}
	c.storeTools([]mcpgo.Tool{{Name: "a"}})
	if c.cachedTools() != nil {
		t.Fatal("cache must stay empty when disabled")
	}

	cached := NewClient(nil, WithClientInfo("", ""), WithTimeout(-1))
	if cached.info.Name != "stockcrew" || cached.timeout != defaultTimeout {
		t.Fatalf("empty options must keep defaults, got %+v %v", cached.info, cached.timeout)
	}
	cached.storeTools([]mcpgo.Tool{{Name: "a"}})
	if got := cached.cachedTools(); len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("expected cached tool, got %+v", got)
	}
}

func TestServerRegisterAndHandler(t *testing.T) {
	ok := testkit.NewStaticCapability("stock_price_history", "AAPL 190.1")
	failing := testkit.NewFailingCapability("stock_news_search", testkit.Unavailable("feed down"))

	srv := NewServer("test", "1.0.0")
	if err := srv.Register(ok, failing, ok); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := srv.Tools(); len(got) != 2 {
		t.Fatalf("expected duplicates to collapse, got %v", got)
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{}

	res, err := srv.handler(ok)(context.Background(), req)
	if err != nil || res.IsError || extractTextContent(res.Content) != "AAPL 190.1" {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}

	res, err = srv.handler(failing)(context.Background(), req)
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error result, got %+v, %v", res, err)
	}
	if text := extractTextContent(res.Content); !strings.HasPrefix(text, "[UPSTREAM_UNAVAILABLE]") {
		t.Fatalf("expected error code prefix, got %q", text)
	}
}
