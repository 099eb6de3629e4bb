// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements crew agents: their immutable definition, the
// iteration loop that drives a language model and capabilities toward an
// accepted answer, and the registry the scheduler resolves roles against.
package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/llm"
	"github.com/smkhb/Stock-Agent/pkg/memory"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
	"github.com/smkhb/Stock-Agent/pkg/tool"
)

// DefaultMaxIterations applies when WithMaxIterations is not given.
const DefaultMaxIterations = 15

// Role identifies an agent. Tasks reference agents by Role only.
type Role string

// Roles of the stock analysis crew.
const (
	RoleStockPriceAnalyst Role = "Senior Stock Price Analyst"
	RoleNewsAnalyst       Role = "Stock News Analyst"
	RoleAnalystWriter     Role = "Senior Stock Analyst Writer"
)

func (r Role) String() string { return string(r) }

// Agent is an immutable agent definition. Execute may be called
// concurrently for different tasks.
type Agent struct {
	role            Role
	goal            string
	backstory       string
	capabilities    *tool.Set
	maxIterations   int
	memoryEnabled   bool
	memoryCapacity  int
	allowDelegation bool
	tags            []string
	provider        llm.Provider
	model           string
	temperature     float64
	invoker         *tool.Invoker
	contract        ContractCheck
	logger          *slog.Logger
	metrics         *telemetry.CrewMetrics
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates a new Agent for role.
func New(role Role, opts ...Option) (*Agent, error) {
	a := &Agent{
		role:           role,
		maxIterations:  DefaultMaxIterations,
		memoryCapacity: memory.DefaultCapacity,
		contract:       NonEmpty,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(string(a.role)) == "" {
		return nil, errors.New(errors.CodeConfig, "agent role is required", nil)
	}
	if a.provider == nil {
		return nil, errors.New(errors.CodeConfig, "agent provider is required", nil).
			WithContext("role", string(a.role))
	}
	if a.capabilities == nil {
		a.capabilities, _ = tool.NewSet()
	}
	if a.invoker == nil {
		a.invoker = tool.NewInvoker(0)
	}
	return a, nil
}

// WithGoal sets the goal template. {name} placeholders are expanded with
// the run inputs.
func WithGoal(goal string) Option {
	return func(a *Agent) error {
		a.goal = goal
		return nil
	}
}

// WithBackstory sets the background text given to the model.
func WithBackstory(backstory string) Option {
	return func(a *Agent) error {
		a.backstory = backstory
		return nil
	}
}

// WithCapabilities assigns the ordered capability set.
func WithCapabilities(caps ...tool.Capability) Option {
	return func(a *Agent) error {
		set, err := tool.NewSet(caps...)
		if err != nil {
			return err
		}
		a.capabilities = set
		return nil
	}
}

// WithMaxIterations bounds the refinement loop. n must be positive.
func WithMaxIterations(n int) Option {
	return func(a *Agent) error {
		if n <= 0 {
			return errors.Newf(errors.CodeConfig, "max iterations must be positive, got %d", n).
				WithContext("role", string(a.role))
		}
		a.maxIterations = n
		return nil
	}
}

// WithMemory enables the per-task iteration log.
func WithMemory(enabled bool) Option {
	return func(a *Agent) error {
		a.memoryEnabled = enabled
		return nil
	}
}

// WithMemoryCapacity bounds the iteration log.
func WithMemoryCapacity(n int) Option {
	return func(a *Agent) error {
		if n > 0 {
			a.memoryCapacity = n
		}
		return nil
	}
}

// WithAllowDelegation marks the agent's tasks as reassignable by the manager.
func WithAllowDelegation(allow bool) Option {
	return func(a *Agent) error {
		a.allowDelegation = allow
		return nil
	}
}

// WithTags sets descriptive tags used for delegation matching.
func WithTags(tags ...string) Option {
	return func(a *Agent) error {
		a.tags = append([]string(nil), tags...)
		return nil
	}
}

// WithProvider sets the language model.
func WithProvider(p llm.Provider) Option {
	return func(a *Agent) error {
		a.provider = p
		return nil
	}
}

// WithModel sets the model name passed in each request.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.model = model
		return nil
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) error {
		a.temperature = t
		return nil
	}
}

// WithInvoker sets the tool invoker used for capability calls.
func WithInvoker(inv *tool.Invoker) Option {
	return func(a *Agent) error {
		if inv == nil {
			return fmt.Errorf("invoker is nil")
		}
		a.invoker = inv
		return nil
	}
}

// WithContractCheck replaces the default non-empty draft check.
func WithContractCheck(check ContractCheck) Option {
	return func(a *Agent) error {
		if check != nil {
			a.contract = check
		}
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.CrewMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// Role returns the agent role.
func (a *Agent) Role() Role { return a.role }

// Goal returns the unexpanded goal template.
func (a *Agent) Goal() string { return a.goal }

// Backstory returns the agent backstory.
func (a *Agent) Backstory() string { return a.backstory }

// Capabilities returns the agent's capability set.
func (a *Agent) Capabilities() *tool.Set { return a.capabilities }

// MaxIterations returns the iteration bound.
func (a *Agent) MaxIterations() int { return a.maxIterations }

// MemoryEnabled reports whether iterations share a log.
func (a *Agent) MemoryEnabled() bool { return a.memoryEnabled }

// AllowDelegation reports whether the agent's tasks may be reassigned.
func (a *Agent) AllowDelegation() bool { return a.allowDelegation }

// Tags returns the agent tags.
func (a *Agent) Tags() []string { return append([]string(nil), a.tags...) }

// Model returns the configured model name.
func (a *Agent) Model() string { return a.model }

// Describe summarizes the agent for delegation prompts.
func (a *Agent) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", a.role, a.goal)
	if names := a.capabilities.Names(); len(names) > 0 {
		fmt.Fprintf(&b, " (tools: %s)", strings.Join(names, ", "))
	}
	return b.String()
}

func (a *Agent) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}
