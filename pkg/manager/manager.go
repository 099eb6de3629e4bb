// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager implements hierarchical coordination: it may override the
// agent assigned to a task and reassigns failed tasks to untried agents
// within a run-wide delegation budget.
package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/planner"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
)

// AssignFunc overrides the agent declared for a task. Returning nil keeps
// the declared agent.
type AssignFunc func(ctx context.Context, task planner.Task, declared *agent.Agent) (*agent.Agent, error)

// Manager implements planner.Delegator.
type Manager struct {
	registry       *agent.Registry
	strategy       Strategy
	maxDelegations int
	assign         AssignFunc
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStrategy sets the candidate selection strategy.
func WithStrategy(s Strategy) Option {
	return func(m *Manager) {
		if s != nil {
			m.strategy = s
		}
	}
}

// WithMaxDelegations caps delegation attempts per run. Zero means twice the
// number of tasks.
func WithMaxDelegations(n int) Option {
	return func(m *Manager) { m.maxDelegations = n }
}

// WithAssignFunc installs a pre-dispatch override hook.
func WithAssignFunc(fn AssignFunc) Option {
	return func(m *Manager) { m.assign = fn }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a manager choosing among the agents of registry.
func New(registry *agent.Registry, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.New(errors.CodeConfig, "manager requires an agent registry", nil)
	}
	m := &Manager{
		registry: registry,
		strategy: KeywordStrategy{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxDelegations < 0 {
		return nil, errors.Newf(errors.CodeConfig, "max delegations must not be negative, got %d", m.maxDelegations)
	}
	return m, nil
}

// Assign implements planner.Delegator.
func (m *Manager) Assign(ctx context.Context, _ *planner.Run, task planner.Task, declared *agent.Agent) (*agent.Agent, error) {
	if m.assign == nil {
		return declared, nil
	}
	a, err := m.assign(ctx, task, declared)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return declared, nil
	}
	if _, err := m.registry.Resolve(a.Role()); err != nil {
		return nil, err
	}
	if a != declared {
		m.log().Info("manager.assign.override",
			slog.String("task_id", task.ID),
			slog.String("declared", string(declared.Role())),
			slog.String("assigned", string(a.Role())),
		)
	}
	return a, nil
}

// Delegate implements planner.Delegator. Only agents that have not yet
// worked on the task are considered; a delegated task may be delegated
// again while untried agents and budget remain.
func (m *Manager) Delegate(ctx context.Context, run *planner.Run, task planner.Task, tried []agent.Role, cause error) (*agent.Agent, planner.DelegationRecord, error) {
	budget := m.budget(run)
	if run.DelegationCount() >= budget {
		return nil, planner.DelegationRecord{}, errors.New(errors.CodeDelegationExhausted, "run delegation budget exhausted", cause).
			WithTask(task.ID).
			WithContext("max_delegations", budget)
	}

	rec := planner.DelegationRecord{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		TaskID:    task.ID,
		CreatedAt: m.now().UTC(),
	}
	if len(tried) > 0 {
		rec.From = tried[len(tried)-1]
	}

	if len(tried) > 0 {
		owner, err := m.registry.Resolve(tried[0])
		if err == nil && !owner.AllowDelegation() {
			rec.Reason = "agent " + string(owner.Role()) + " does not allow delegation"
			m.logDelegation(ctx, task, rec)
			return nil, rec, nil
		}
	}

	candidates := m.candidates(tried)
	if len(candidates) == 0 {
		rec.Reason = "no untried agent available"
		m.logDelegation(ctx, task, rec)
		return nil, rec, nil
	}

	chosen, reason, err := m.strategy.Choose(ctx, task, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, planner.DelegationRecord{}, resilience.ContextError(ctx, "delegation")
		}
		return nil, planner.DelegationRecord{}, errors.New(errors.CodeTaskFailed, "delegation strategy failed", err).
			WithTask(task.ID)
	}
	rec.Reason = reason
	if chosen != nil {
		rec.Candidate = chosen.Role()
		rec.Accepted = true
	}
	m.logDelegation(ctx, task, rec)
	return chosen, rec, nil
}

func (m *Manager) budget(run *planner.Run) int {
	if m.maxDelegations > 0 {
		return m.maxDelegations
	}
	n := run.TaskCount()
	if n < 1 {
		n = 1
	}
	return 2 * n
}

func (m *Manager) candidates(tried []agent.Role) []*agent.Agent {
	skip := make(map[agent.Role]bool, len(tried))
	for _, r := range tried {
		skip[r] = true
	}
	var out []*agent.Agent
	for _, a := range m.registry.Agents() {
		if !skip[a.Role()] {
			out = append(out, a)
		}
	}
	return out
}

// logDelegation records the decision on the task span and in the log.
func (m *Manager) logDelegation(ctx context.Context, task planner.Task, rec planner.DelegationRecord) {
	trace.SpanFromContext(ctx).AddEvent("delegation", trace.WithAttributes(
		telemetry.DelegationAttributes(string(rec.From), string(rec.Candidate), rec.Reason, rec.Accepted)...))
	m.log().InfoContext(ctx, "manager.delegation",
		slog.String("run_id", rec.RunID),
		slog.String("task_id", task.ID),
		slog.String("from", string(rec.From)),
		slog.String("candidate", string(rec.Candidate)),
		slog.Bool("accepted", rec.Accepted),
		slog.String("reason", rec.Reason),
	)
}

func (m *Manager) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

var _ planner.Delegator = (*Manager)(nil)
