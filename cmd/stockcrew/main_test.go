package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkhb/Stock-Agent/pkg/config"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/llm/openai"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/runtime"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigArgs(t *testing.T) {
	f := globalFlags{ConfigPath: "crew.yaml", Profile: "dev", Sets: []string{"llm.provider=openai", "log.level=debug"}}
	assert.Equal(t, []string{
		"--config", "crew.yaml",
		"--profile", "dev",
		"--set", "llm.provider=openai",
		"--set", "log.level=debug",
	}, f.configArgs())
	assert.Empty(t, globalFlags{}.configArgs())
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, loadEnvFile(""))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STOCKCREW_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("STOCKCREW_TEST_DOTENV") })
	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("STOCKCREW_TEST_DOTENV"))
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		check   func(t *testing.T, p llm.Provider)
		wantErr bool
	}{
		{name: "mock", cfg: config.LLMConfig{Provider: "mock"}, check: func(t *testing.T, p llm.Provider) {
			assert.IsType(t, &llm.MockProvider{}, p)
		}},
		{name: "ollama", cfg: config.LLMConfig{Provider: "ollama", Model: "llama3.1"}, check: func(t *testing.T, p llm.Provider) {
			assert.IsType(t, &llm.OllamaProvider{}, p)
		}},
		{name: "openai", cfg: config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"}, check: func(t *testing.T, p llm.Provider) {
			assert.IsType(t, &openai.Provider{}, p)
		}},
		{name: "unknown", cfg: config.LLMConfig{Provider: "bard"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newProvider(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestOfflineProvider(t *testing.T) {
	resp, err := newOfflineProvider().Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an analyst."},
		{Role: llm.RoleUser, Content: "Current task: Analyze AAPL\n\nThis is the expected criteria for your final answer: a trend"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "[offline] Analyze AAPL", resp.Content)
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph", "-o", "json")
	require.NoError(t, err)

	g, err := planner.ParseJSON([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	out, err = execute(t, "graph")
	require.NoError(t, err)
	for _, want := range []string{"STOCK_PRICE", "STOCK_NEWS", "WRITE_ANALYSIS", "STOCK_PRICE, STOCK_NEWS"} {
		assert.Contains(t, strings.ToUpper(out), want)
	}

	_, err = execute(t, "graph", "-o", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--ticket", "aapl", "--json", "--trace")
	require.NoError(t, err)

	var p runtime.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "succeeded", p.Status)
	assert.True(t, strings.HasPrefix(p.Result, "[offline] Use the stock price trend"), p.Result)
	assert.Contains(t, p.Result, "analysis of AAPL")
	assert.Len(t, p.Trace, 3)
}

func TestRunCommandMissingTicket(t *testing.T) {
	out, err := execute(t, "run", "--json")
	require.Error(t, err)

	var p runtime.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "failed", p.Status)
	assert.Equal(t, "MISSING_INPUT", p.ErrorKind)
}

func TestRunCommandSequentialTable(t *testing.T) {
	out, err := execute(t, "run", "-t", "BTC", "--trace", "--set", "scheduler.process=sequential")
	require.NoError(t, err)
	assert.Contains(t, out, "[offline] Use the stock price trend")
	assert.Contains(t, strings.ToUpper(out), "WRITE_ANALYSIS")
}

func TestTraceCommand(t *testing.T) {
	_, err := execute(t, "trace", "--run-id", "run-1")
	assert.ErrorContains(t, err, "not persistent")

	dsn := "file:" + filepath.Join(t.TempDir(), "trace.db")
	store := []string{"--set", "trace.store=sqlite", "--set", "trace.dsn=" + dsn}

	out, err := execute(t, append([]string{"run", "--ticket", "MSFT", "--json"}, store...)...)
	require.NoError(t, err)
	var p runtime.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &p))

	out, err = execute(t, append([]string{"trace", "--run-id", p.RunID, "--json"}, store...)...)
	require.NoError(t, err)
	var entries []planner.TraceEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 3)

	_, err = execute(t, append([]string{"trace", "--run-id", "run-unknown"}, store...)...)
	assert.ErrorContains(t, err, "no trace entries")
}
