// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys. Token usage follows the gen_ai conventions.
const (
	AttrRunID     = "crew.run.id"
	AttrRunStatus = "crew.run.status"
	AttrRunGraph  = "crew.run.graph"
	AttrRunTasks  = "crew.run.task_count"
	AttrTaskID    = "crew.task.id"
	AttrTaskDesc  = "crew.task.description"
	AttrTaskState = "crew.task.state"
	AttrAttempt   = "crew.task.attempt"

	AttrAgentRole    = "crew.agent.role"
	AttrAgentModel   = "crew.agent.model"
	AttrAgentMaxIter = "crew.agent.max_iterations"
	AttrAgentMemory  = "crew.agent.memory_enabled"
	AttrIterations   = "crew.agent.iterations"

	AttrToolName     = "crew.tool.name"
	AttrToolAttempts = "crew.tool.attempts"
	AttrToolMillis   = "crew.tool.duration_ms"
	AttrToolOK       = "crew.tool.success"

	AttrDelegationFrom     = "crew.delegation.from"
	AttrDelegationTo       = "crew.delegation.candidate"
	AttrDelegationAccepted = "crew.delegation.accepted"
	AttrDelegationReason   = "crew.delegation.reason"

	AttrInputTokens  = "gen_ai.usage.input_tokens"
	AttrOutputTokens = "gen_ai.usage.output_tokens"

	AttrErrorCode = "error.code"
)

// maxDescription bounds task descriptions copied onto spans, in runes.
const maxDescription = 200

func RunAttributes(runID, graphID string, tasks int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrRunGraph, graphID),
		attribute.Int(AttrRunTasks, tasks),
	}
}

// TaskAttributes omits empty values and a zero attempt.
func TaskAttributes(taskID, description, state string, attempt int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	add(AttrTaskID, taskID)
	add(AttrTaskDesc, truncate(description, maxDescription))
	add(AttrTaskState, state)
	if attempt > 0 {
		attrs = append(attrs, attribute.Int(AttrAttempt, attempt))
	}
	return attrs
}

func AgentAttributes(role, model string, maxIter int, memory bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentRole, role),
		attribute.Int(AttrAgentMaxIter, maxIter),
		attribute.Bool(AttrAgentMemory, memory),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrAgentModel, model))
	}
	return attrs
}

// UsageAttributes summarizes an agent run once it ends.
func UsageAttributes(iterations, inputTokens, outputTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrIterations, iterations),
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
	}
}

func ToolCallAttributes(name string, attempts int, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.Int(AttrToolAttempts, attempts),
		attribute.Float64(AttrToolMillis, durationMs),
		attribute.Bool(AttrToolOK, success),
	}
}

// DelegationAttributes describes one delegation decision. An empty candidate
// means nobody was chosen.
func DelegationAttributes(from, candidate, reason string, accepted bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrDelegationFrom, from),
		attribute.Bool(AttrDelegationAccepted, accepted),
	}
	if candidate != "" {
		attrs = append(attrs, attribute.String(AttrDelegationTo, candidate))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrDelegationReason, truncate(reason, maxDescription)))
	}
	return attrs
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
