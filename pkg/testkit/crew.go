package testkit

import (
	"testing"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// FastInvoker returns a tool invoker with millisecond backoff.
func FastInvoker() *tool.Invoker {
	inv := tool.NewInvoker(0)
	inv.Retry = inv.Retry.WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
	return inv
}

// NewAgent builds an agent with a fast invoker or fails the test.
func NewAgent(t testing.TB, role agent.Role, provider llm.Provider, opts ...agent.Option) *agent.Agent {
	t.Helper()
	base := []agent.Option{agent.WithProvider(provider), agent.WithInvoker(FastInvoker())}
	a, err := agent.New(role, append(base, opts...)...)
	if err != nil {
		t.Fatalf("build agent %q: %v", role, err)
	}
	return a
}

// NewRegistry registers agents and freezes the registry or fails the test.
func NewRegistry(t testing.TB, agents ...*agent.Agent) *agent.Registry {
	t.Helper()
	reg, err := agent.NewRegistry(agents...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	reg.Freeze()
	return reg
}
