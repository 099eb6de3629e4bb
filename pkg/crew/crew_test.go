package crew

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/manager"
	"github.com/smkhb/Stock-Agent/pkg/runtime"
	"github.com/smkhb/Stock-Agent/pkg/testkit"
	"github.com/smkhb/Stock-Agent/pkg/tool"
	newstool "github.com/smkhb/Stock-Agent/pkg/tool/news"
	pricetool "github.com/smkhb/Stock-Agent/pkg/tool/stock"
)

func TestGraph(t *testing.T) {
	g, err := Graph()
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	ids := make([]string, 0, len(order))
	for _, task := range order {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{TaskStockPrice, TaskStockNews, TaskWriteAnalysis}, ids)

	terminal, err := g.Terminal()
	require.NoError(t, err)
	assert.Equal(t, TaskWriteAnalysis, terminal.ID)
	assert.Equal(t, agent.RoleAnalystWriter, terminal.Agent)
	assert.Equal(t, []string{InputTicket}, g.RequiredInputs())

	news, ok := g.Task(TaskStockNews)
	require.True(t, ok)
	assert.Contains(t, news.Description, "The current date is {current_date}.")
}

func TestAgents(t *testing.T) {
	agents, err := Agents(Options{Provider: testkit.Answer("ok"), Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.Len(t, agents, 3)

	tests := []struct {
		role       agent.Role
		iterations int
		delegate   bool
		tools      []string
	}{
		{agent.RoleStockPriceAnalyst, 5, false, []string{pricetool.ToolName}},
		{agent.RoleNewsAnalyst, 10, false, []string{newstool.ToolName}},
		{agent.RoleAnalystWriter, 5, true, nil},
	}
	for i, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			a := agents[i]
			assert.Equal(t, tt.role, a.Role())
			assert.Equal(t, tt.iterations, a.MaxIterations())
			assert.Equal(t, tt.delegate, a.AllowDelegation())
			assert.True(t, a.MemoryEnabled())
			assert.Equal(t, "gpt-4o-mini", a.Model())
			if tt.tools == nil {
				assert.Zero(t, a.Capabilities().Len())
			} else {
				assert.Equal(t, tt.tools, a.Capabilities().Names())
			}
		})
	}
}

func TestAgentsExtraCapabilities(t *testing.T) {
	extra := testkit.NewStaticCapability("web_search", "results", "search")
	reg, err := Registry(Options{
		Provider: testkit.Answer("ok"),
		Extra:    map[agent.Role][]tool.Capability{agent.RoleNewsAnalyst: {extra}},
	})
	require.NoError(t, err)

	news, err := reg.Resolve(agent.RoleNewsAnalyst)
	require.NoError(t, err)
	assert.Equal(t, []string{newstool.ToolName, "web_search"}, news.Capabilities().Names())
}

func TestAgentsRequireProvider(t *testing.T) {
	_, err := Agents(Options{})
	require.Error(t, err)
}

func TestDefaultFixtures(t *testing.T) {
	prices, err := DefaultPrices()
	require.NoError(t, err)
	from, _ := time.Parse("2006-01-02", pricetool.DefaultStart)
	to, _ := time.Parse("2006-01-02", pricetool.DefaultEnd)
	bars, err := prices.History(context.Background(), "aapl", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 12)
	assert.Equal(t, 192.53, bars[len(bars)-1].Close)

	news, err := DefaultNews()
	require.NoError(t, err)
	articles, err := news.Search(context.Background(), "BTC", newstool.DefaultCount)
	require.NoError(t, err)
	assert.Len(t, articles, 2)
}

func TestKickoffEndToEnd(t *testing.T) {
	provider := testkit.NewScenarioProvider().
		OnTask("news of each asset", "AAPL: strong year, greed 70. BTC: ETF hopes, greed 80.").
		OnTask("newsletter", "# AAPL newsletter").
		AddScriptedResponse(testkit.ScriptedResponse{
			Condition: testkit.TaskContains("price history"),
			ToolCalls: []llm.ToolCall{llm.NewToolCall("call_1", pricetool.ToolName, map[string]any{"symbol": "AAPL"})},
		}).
		AddScriptedResponse(testkit.ScriptedResponse{
			Condition: testkit.TaskContains("price history"),
			Content:   "stock=AAPL, price UP",
		})

	reg, err := Registry(Options{Provider: provider, Invoker: testkit.FastInvoker()})
	require.NoError(t, err)
	g, err := Graph()
	require.NoError(t, err)
	mgr, err := manager.New(reg)
	require.NoError(t, err)

	c, err := runtime.New(reg, g,
		runtime.WithDelegator(mgr),
		runtime.WithClock(func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)

	res, err := c.Kickoff(context.Background(), map[string]string{InputTicket: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, core.RunSucceeded, res.Status)
	assert.Equal(t, "# AAPL newsletter", res.Result)
	assert.Equal(t, "stock=AAPL, price UP", res.Outputs[TaskStockPrice])
	assert.Len(t, res.Trace, 3)
	assert.Empty(t, res.Delegations)

	var sawObservation, sawDate, sawContext bool
	for _, req := range provider.Requests() {
		prompt := testkit.TaskPrompt(req)
		for _, m := range req.Messages {
			if m.Role == llm.RoleTool && m.ToolCallID == "call_1" {
				sawObservation = sawObservation || strings.Contains(m.Content, "192.53")
			}
		}
		sawDate = sawDate || containsAll(prompt, "news of each asset", "The current date is 2026-03-02.")
		sawContext = sawContext || containsAll(prompt, "newsletter",
			"stock=AAPL, price UP\n\nAAPL: strong year, greed 70. BTC: ETF hopes, greed 80.")
	}
	assert.True(t, sawObservation, "price analyst must see the tool observation")
	assert.True(t, sawDate, "news task must carry the run date")
	assert.True(t, sawContext, "writer must receive both reports in dependency order")
}

func TestKickoffMissingTicket(t *testing.T) {
	reg, err := Registry(Options{Provider: testkit.Answer("unused")})
	require.NoError(t, err)
	g, err := Graph()
	require.NoError(t, err)
	c, err := runtime.New(reg, g)
	require.NoError(t, err)

	_, err = c.Kickoff(context.Background(), map[string]string{InputTicket: " "})
	testkit.AssertCode(t, err, errors.CodeMissingInput)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
