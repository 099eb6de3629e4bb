// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// MeterName is the instrumentation scope for crew metrics.
const MeterName = "stock-agent/crew"

// CrewMetrics tracks scheduler, agent and tool activity.
type CrewMetrics struct {
	// taskCounter tracks task transitions by resulting state
	taskCounter metric.Int64Counter

	// taskDuration records dispatch-to-terminal latency per task
	taskDuration metric.Float64Histogram

	// delegationCounter tracks delegation decisions
	delegationCounter metric.Int64Counter

	// iterationCounter tracks agent loop iterations
	iterationCounter metric.Int64Counter

	// toolAttemptCounter tracks tool invocation attempts
	toolAttemptCounter metric.Int64Counter

	// errorCounter tracks errors by code and component
	errorCounter metric.Int64Counter

	// runCounter tracks finished runs by status
	runCounter metric.Int64Counter
}

var (
	defaultMetrics     *CrewMetrics
	defaultMetricsOnce sync.Once
)

// NewCrewMetrics creates the crew instruments on the global meter provider.
func NewCrewMetrics() (*CrewMetrics, error) {
	meter := otel.Meter(MeterName)
	m := &CrewMetrics{}
	var err error

	if m.taskCounter, err = meter.Int64Counter(
		"crew.tasks.transitions",
		metric.WithDescription("Task state transitions by resulting state"),
	); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram(
		"crew.tasks.duration",
		metric.WithDescription("Task execution time"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.delegationCounter, err = meter.Int64Counter(
		"crew.delegations.total",
		metric.WithDescription("Delegation decisions by outcome"),
	); err != nil {
		return nil, err
	}
	if m.iterationCounter, err = meter.Int64Counter(
		"crew.agent.iterations",
		metric.WithDescription("Agent loop iterations by role"),
	); err != nil {
		return nil, err
	}
	if m.toolAttemptCounter, err = meter.Int64Counter(
		"crew.tool.attempts",
		metric.WithDescription("Tool invocation attempts by tool and outcome"),
	); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter(
		"crew.errors.total",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	if m.runCounter, err = meter.Int64Counter(
		"crew.runs.total",
		metric.WithDescription("Finished runs by status"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetrics returns the process-wide metrics, created on first use.
// Returns nil if the instruments could not be created; all recorders accept nil.
func DefaultMetrics() *CrewMetrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewCrewMetrics()
		if err == nil {
			defaultMetrics = m
		}
	})
	return defaultMetrics
}

// RecordTaskTransition counts a task reaching state.
func (m *CrewMetrics) RecordTaskTransition(ctx context.Context, taskID, state string) {
	if m == nil {
		return
	}
	m.taskCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrTaskState, state),
	))
}

// RecordTaskDuration records how long a dispatched task took.
func (m *CrewMetrics) RecordTaskDuration(ctx context.Context, taskID string, ms float64) {
	if m == nil {
		return
	}
	m.taskDuration.Record(ctx, ms, metric.WithAttributes(attribute.String(AttrTaskID, taskID)))
}

// RecordDelegation counts a delegation decision.
func (m *CrewMetrics) RecordDelegation(ctx context.Context, from string, accepted bool) {
	if m == nil {
		return
	}
	m.delegationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrDelegationFrom, from),
		attribute.Bool(AttrDelegationAccepted, accepted),
	))
}

// RecordIteration counts one agent loop iteration.
func (m *CrewMetrics) RecordIteration(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.iterationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentRole, role)))
}

// RecordToolAttempt counts one tool invocation attempt.
func (m *CrewMetrics) RecordToolAttempt(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	m.toolAttemptCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.Bool(AttrToolOK, success),
	))
}

// RecordError increments the error counter for the error's code and component.
func (m *CrewMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	recoverable := "unknown"
	if code == "" {
		code = "UNKNOWN"
	} else if ce := errors.AsCrewError(err); ce != nil {
		recoverable = ce.RecoverableString()
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordRun counts a finished run.
func (m *CrewMetrics) RecordRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRunStatus, status)))
}
