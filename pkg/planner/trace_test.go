package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/memory"
)

func sampleEntries() []TraceEntry {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	return []TraceEntry{
		{
			RunID: "run-1", TaskID: "stock_price", Agent: agent.RoleStockPriceAnalyst,
			Status: core.TaskDelegated, Attempt: 1,
			Transitions: []core.TaskState{core.TaskPending, core.TaskReady, core.TaskDispatched, core.TaskDelegated},
			StartedAt:   start, FinishedAt: start.Add(2 * time.Second), Duration: 2 * time.Second,
			Iterations: 3, ToolAttempts: 3, ErrorCode: "TOOL_EXHAUSTED", Error: "tool retry budget exhausted",
		},
		{
			RunID: "run-1", TaskID: "stock_price", Agent: agent.RoleNewsAnalyst,
			Status: core.TaskSucceeded, Attempt: 2, DelegatedFrom: agent.RoleStockPriceAnalyst,
			StartedAt: start.Add(3 * time.Second), FinishedAt: start.Add(4 * time.Second), Duration: time.Second,
			Iterations: 1, OutputDigest: Digest("price out"),
			Memory: []memory.Entry{{Iteration: 1, Kind: memory.KindDraft, Content: "price out", At: start}},
		},
		{
			RunID: "run-2", TaskID: "stock_news", Agent: agent.RoleNewsAnalyst,
			Status: core.TaskSucceeded, Attempt: 1, StartedAt: start, FinishedAt: start,
		},
	}
}

func exerciseTraceStore(t *testing.T, store TraceStore) {
	ctx := context.Background()
	for _, e := range sampleEntries() {
		require.NoError(t, store.Record(ctx, e))
	}

	all, err := store.List(ctx, TraceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	byRun, err := store.List(ctx, TraceFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, core.TaskDelegated, byRun[0].Status)
	assert.Equal(t, []core.TaskState{core.TaskPending, core.TaskReady, core.TaskDispatched, core.TaskDelegated}, byRun[0].Transitions)
	assert.Equal(t, 2*time.Second, byRun[0].Duration)
	assert.WithinDuration(t, sampleEntries()[0].StartedAt, byRun[0].StartedAt, time.Second)
	assert.Equal(t, agent.RoleStockPriceAnalyst, byRun[1].DelegatedFrom)
	require.Len(t, byRun[1].Memory, 1)
	assert.Equal(t, "price out", byRun[1].Memory[0].Content)

	succeeded, err := store.List(ctx, TraceFilter{Status: string(core.TaskSucceeded)})
	require.NoError(t, err)
	assert.Len(t, succeeded, 2)

	limited, err := store.List(ctx, TraceFilter{TaskID: "stock_price", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 1, limited[0].Attempt)
}

func TestMemoryTraceStore(t *testing.T) {
	exerciseTraceStore(t, NewMemoryTraceStore())
}

func TestSQLiteTraceStore(t *testing.T) {
	store, err := OpenSQLiteTraceStore("file:crew_trace_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer store.Close()
	exerciseTraceStore(t, store)
}

func TestNewSQLiteTraceStoreNilDB(t *testing.T) {
	_, err := NewSQLiteTraceStore(nil)
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	d := Digest("price out")
	assert.True(t, strings.HasPrefix(d, "sha256:"))
	assert.Len(t, d, len("sha256:")+16)
	assert.Equal(t, d, Digest("price out"))
	assert.NotEqual(t, d, Digest("news out"))
}

func TestRunStateMachine(t *testing.T) {
	run := NewRun("run-sm", map[string]string{"ticket": "AAPL"}, 0)
	run.start([]Task{{ID: "a"}}, time.Now())

	require.NoError(t, run.transition("a", core.TaskReady))
	err := run.transition("a", core.TaskSucceeded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTERNAL_INCONSISTENCY")

	require.NoError(t, run.transition("a", core.TaskDispatched))
	require.NoError(t, run.transition("a", core.TaskSucceeded))
	require.NoError(t, run.setOutput("a", "first"))
	assert.Error(t, run.setOutput("a", "second"))
	out, _ := run.Output("a")
	assert.Equal(t, "first", out)
	assert.Error(t, run.transition("missing", core.TaskReady))
}
