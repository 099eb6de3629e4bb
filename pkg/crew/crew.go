// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package crew assembles the stock analysis crew: a price analyst, a news
// analyst and a writer who turns both reports into a newsletter.
package crew

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
	"github.com/smkhb/Stock-Agent/pkg/tool"
	newstool "github.com/smkhb/Stock-Agent/pkg/tool/news"
	pricetool "github.com/smkhb/Stock-Agent/pkg/tool/stock"
)

// Task identifiers of the default graph.
const (
	TaskStockPrice    = "stock_price"
	TaskStockNews     = "stock_news"
	TaskWriteAnalysis = "write_analysis"
)

// InputTicket is the only input a run requires.
const InputTicket = "ticket"

//go:embed crew.yaml
var graphYAML []byte

//go:embed fixtures/prices.yaml
var pricesYAML []byte

//go:embed fixtures/news.yaml
var newsYAML []byte

// Options configures the crew agents.
type Options struct {
	Provider    llm.Provider
	Model       string
	Temperature float64

	// Prices and News back the analysts' capabilities. Nil selects the
	// bundled fixtures.
	Prices pricetool.PriceSource
	News   newstool.Source

	// Extra capabilities appended per role, typically discovered over MCP.
	Extra map[agent.Role][]tool.Capability

	Invoker *tool.Invoker
	Logger  *slog.Logger
	Metrics *telemetry.CrewMetrics
}

type definition struct {
	role          agent.Role
	goal          string
	backstory     string
	maxIterations int
	delegate      bool
	tags          []string
}

var definitions = []definition{
	{
		role: agent.RoleStockPriceAnalyst,
		goal: "Find the {ticket} stock prices and analyze future prices and trends.",
		backstory: "You're a highly experienced stock price analyst who studies the price " +
			"history of a specific stock and predicts its future price.",
		maxIterations: 5,
		tags:          []string{"price", "trend", "forecast"},
	},
	{
		role: agent.RoleNewsAnalyst,
		goal: "Create a short summary of the market news related to the stock {ticket}. " +
			"Specify the current trend (up, down or sideways) with the news context. " +
			"For each requested stock asset give a number between 0 and 100, where 0 is " +
			"extreme fear and 100 is extreme greed.",
		backstory: "You're highly experienced in analyzing market trends and news and have " +
			"tracked assets for more than 10 years. You're also a master level analyst of " +
			"traditional markets with a deep understanding of human psychology. You " +
			"understand news, their titles and content, but you look at them with a " +
			"healthy dose of skepticism and always consider the source of the articles.",
		maxIterations: 10,
		tags:          []string{"news", "sentiment", "fear", "greed"},
	},
	{
		role: agent.RoleAnalystWriter,
		goal: "Write an insightful, compelling and informative three paragraph newsletter " +
			"based on the stock report and the price trend.",
		backstory: "You're widely accepted as the best stock analyst in the market. You " +
			"understand complex concepts and create compelling stories and narratives " +
			"that resonate with wider audiences. You understand macro factors and combine " +
			"multiple theories, such as cycle theory and fundamental analysis. You're able " +
			"to hold multiple opinions when analyzing anything.",
		maxIterations: 5,
		delegate:      true,
		tags:          []string{"newsletter", "writing", "analysis"},
	},
}

// Graph returns the default task graph.
func Graph() (*planner.Graph, error) {
	return planner.ParseYAML(graphYAML)
}

// DefaultPrices returns the bundled price fixture.
func DefaultPrices() (*pricetool.FixtureSource, error) {
	return pricetool.ParseFixture(pricesYAML)
}

// DefaultNews returns the bundled news fixture.
func DefaultNews() (*newstool.FixtureSource, error) {
	return newstool.ParseFixture(newsYAML)
}

// Agents builds the three crew agents in declaration order.
func Agents(opts Options) ([]*agent.Agent, error) {
	caps, err := capabilities(opts)
	if err != nil {
		return nil, err
	}

	agents := make([]*agent.Agent, 0, len(definitions))
	for _, d := range definitions {
		agentOpts := []agent.Option{
			agent.WithProvider(opts.Provider),
			agent.WithModel(opts.Model),
			agent.WithTemperature(opts.Temperature),
			agent.WithGoal(d.goal),
			agent.WithBackstory(d.backstory),
			agent.WithMaxIterations(d.maxIterations),
			agent.WithMemory(true),
			agent.WithAllowDelegation(d.delegate),
			agent.WithTags(d.tags...),
			agent.WithCapabilities(append(caps[d.role], opts.Extra[d.role]...)...),
			agent.WithLogger(opts.Logger),
			agent.WithMetrics(opts.Metrics),
		}
		if opts.Invoker != nil {
			agentOpts = append(agentOpts, agent.WithInvoker(opts.Invoker))
		}
		a, err := agent.New(d.role, agentOpts...)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", d.role, err)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// Registry builds the crew agents and registers them.
func Registry(opts Options) (*agent.Registry, error) {
	agents, err := Agents(opts)
	if err != nil {
		return nil, err
	}
	return agent.NewRegistry(agents...)
}

func capabilities(opts Options) (map[agent.Role][]tool.Capability, error) {
	prices := opts.Prices
	if prices == nil {
		src, err := DefaultPrices()
		if err != nil {
			return nil, err
		}
		prices = src
	}
	news := opts.News
	if news == nil {
		src, err := DefaultNews()
		if err != nil {
			return nil, err
		}
		news = src
	}

	priceCap, err := pricetool.NewCapability(prices)
	if err != nil {
		return nil, err
	}
	newsCap, err := newstool.NewCapability(news)
	if err != nil {
		return nil, err
	}
	return map[agent.Role][]tool.Capability{
		agent.RoleStockPriceAnalyst: {priceCap},
		agent.RoleNewsAnalyst:       {newsCap},
	}, nil
}
