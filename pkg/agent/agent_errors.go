// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// WrapGenerationError wraps a language model failure.
func WrapGenerationError(err error, role Role, model string) *errors.CrewError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeGeneration, "language model call failed", err).
		WithContext("role", string(role)).
		WithContext("model", model).
		WithAttribute("llm.model", model).
		WithRecoverable(true)
}

// NewIterationBudgetError reports that an agent spent maxIterations without
// an accepted draft. last is the most recent iteration failure, if any.
func NewIterationBudgetError(role Role, maxIterations int, last error) *errors.CrewError {
	return errors.New(errors.CodeIterationBudgetExceeded, "agent exhausted its iterations without an accepted answer", last).
		WithContext("role", string(role)).
		WithContext("max_iterations", maxIterations)
}

// NewRunBudgetError reports that the run-wide iteration cap was reached.
func NewRunBudgetError(role Role, limit int) *errors.CrewError {
	return errors.New(errors.CodeIterationBudgetExceeded, "run iteration budget exhausted", nil).
		WithContext("role", string(role)).
		WithContext("max_run_iterations", limit)
}
