package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/config"
	"github.com/smkhb/Stock-Agent/pkg/crew"
	"github.com/smkhb/Stock-Agent/pkg/guardrails"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/llm/openai"
	"github.com/smkhb/Stock-Agent/pkg/manager"
	"github.com/smkhb/Stock-Agent/pkg/mcp"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/runtime"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
	"github.com/smkhb/Stock-Agent/pkg/tool"
	newstool "github.com/smkhb/Stock-Agent/pkg/tool/news"
	pricetool "github.com/smkhb/Stock-Agent/pkg/tool/stock"
)

// app is a fully wired crew. Close releases the trace store and MCP clients.
type app struct {
	coordinator *runtime.Coordinator
	traces      planner.TraceStore
	closers     []func() error
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildApp wires the crew described by cfg. graphPath replaces the bundled
// task graph when set.
func buildApp(ctx context.Context, cfg *config.Config, graphPath string, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	prices, news, err := loadSources(cfg.Tools)
	if err != nil {
		return nil, err
	}
	extra, err := a.connectMCP(ctx, cfg.MCP, logger)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.DefaultMetrics()
	invoker := tool.NewInvoker(cfg.Scheduler.ToolTimeout())
	invoker.Logger = logger
	invoker.Metrics = metrics
	registry, err := crew.Registry(crew.Options{
		Provider:    provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Prices:      prices,
		News:        news,
		Extra:       extra,
		Invoker:     invoker,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}

	graph, err := loadGraph(graphPath)
	if err != nil {
		return nil, err
	}

	traces, err := openTraceStore(cfg.Trace)
	if err != nil {
		return nil, err
	}
	a.traces = traces
	if closer, ok := traces.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	opts := []runtime.Option{
		runtime.WithTraceStore(traces),
		runtime.WithInputGuard(guardrails.Default(guardrails.WithLogger(logger))),
		runtime.WithConcurrency(cfg.Scheduler.Concurrency),
		runtime.WithTaskTimeout(cfg.Scheduler.TaskTimeout()),
		runtime.WithPersistMemory(cfg.Scheduler.PersistMemory),
		runtime.WithMaxRunIterations(cfg.Scheduler.MaxRunIterations),
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics),
		runtime.WithEvents(telemetry.EventLogger(logger)),
	}
	if cfg.Scheduler.Hierarchical() {
		mgr, err := manager.New(registry,
			manager.WithStrategy(newStrategy(cfg, provider)),
			manager.WithMaxDelegations(cfg.Scheduler.MaxDelegations),
			manager.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runtime.WithDelegator(mgr))
	}

	a.coordinator, err = runtime.New(registry, graph, opts...)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "mock":
		return newOfflineProvider(), nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL,
			llm.WithOllamaModel(cfg.Model),
			llm.WithOllamaTemperature(cfg.Temperature),
		), nil
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithTemperature(cfg.Temperature)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		return openai.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// newOfflineProvider answers every task with a canned report built from the
// task line, so the crew can run without a model.
func newOfflineProvider() llm.Provider {
	return &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			task := ""
			for _, m := range req.Messages {
				if m.Role == llm.RoleUser {
					task = m.Content
					break
				}
			}
			task = strings.TrimPrefix(task, "Current task: ")
			if line, _, found := strings.Cut(task, "\n"); found {
				task = line
			}
			return &llm.ChatResponse{Content: "[offline] " + task}, nil
		},
	}
}

func newStrategy(cfg *config.Config, provider llm.Provider) manager.Strategy {
	if cfg.Scheduler.Strategy != "llm" {
		return manager.KeywordStrategy{}
	}
	model := cfg.LLM.ManagerModel
	if model == "" {
		model = cfg.LLM.Model
	}
	return manager.LLMStrategy{Provider: provider, Model: model, Fallback: manager.KeywordStrategy{}}
}

func loadSources(cfg config.ToolsConfig) (pricetool.PriceSource, newstool.Source, error) {
	var (
		prices pricetool.PriceSource
		news   newstool.Source
	)
	if cfg.PriceFixture != "" {
		src, err := pricetool.LoadFixtureFile(cfg.PriceFixture)
		if err != nil {
			return nil, nil, err
		}
		prices = src
	}
	if cfg.NewsFixture != "" {
		src, err := newstool.LoadFixtureFile(cfg.NewsFixture)
		if err != nil {
			return nil, nil, err
		}
		news = src
	}
	return prices, news, nil
}

func loadGraph(path string) (*planner.Graph, error) {
	if path == "" {
		return crew.Graph()
	}
	return planner.LoadGraph(path)
}

func openTraceStore(cfg config.TraceConfig) (planner.TraceStore, error) {
	switch cfg.Store {
	case "sqlite":
		return planner.OpenSQLiteTraceStore(cfg.DSN)
	case "memory", "":
		return planner.NewMemoryTraceStore(), nil
	default:
		return nil, fmt.Errorf("unknown trace store %q", cfg.Store)
	}
}

// connectMCP starts the configured MCP servers and groups their tools by
// the roles that receive them.
func (a *app) connectMCP(ctx context.Context, cfg config.MCPConfig, logger *slog.Logger) (map[agent.Role][]tool.Capability, error) {
	if len(cfg.Servers) == 0 {
		return nil, nil
	}
	extra := make(map[agent.Role][]tool.Capability)
	for name, srv := range cfg.Servers {
		client, err := mcp.NewStdioClient(ctx, srv.Command, srv.Env, srv.Args,
			mcp.WithClientInfo(serviceName, version))
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		a.closers = append(a.closers, client.Close)

		caps, err := mcp.Capabilities(ctx, client, srv.Tools, "mcp", name)
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		for _, role := range srv.Agents {
			extra[agent.Role(role)] = append(extra[agent.Role(role)], caps...)
		}
		logger.Info("mcp.server.connected",
			slog.String("server", name),
			slog.Int("tools", len(caps)),
			slog.String("agents", strings.Join(srv.Agents, ",")),
		)
	}
	return extra, nil
}
