// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens run inputs before they are expanded into task
// prompts. Inputs arrive from the command line or the HTTP surface and are
// pasted verbatim into every agent's instructions, so a checker can reject a
// value before any task is dispatched.
//
//	guard := guardrails.New(
//	    guardrails.WithChecker(guardrails.NewPromptInjectionDetector()),
//	    guardrails.WithChecker(guardrails.Ticker("ticket")),
//	)
//	if err := guard.CheckInputs(ctx, inputs); err != nil {
//	    return err // INVALID_INPUT
//	}
package guardrails

import (
	"context"
	"log/slog"
	"sort"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
)

// CheckResult is the outcome of one checker on one input.
type CheckResult struct {
	Blocked bool
	Reason  string
	// GuardrailID identifies the checker that blocked.
	GuardrailID string
}

// InputChecker inspects a single named input.
type InputChecker interface {
	CheckInput(ctx context.Context, name, value string) CheckResult
	ID() string
}

// Guardrails runs every checker over every input.
type Guardrails struct {
	checkers []InputChecker
	logger   *slog.Logger
}

// Option configures Guardrails.
type Option func(*Guardrails)

// New creates a guard with the given checkers.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Default returns the guard applied to crew runs: prompt injection detection
// on every input and ticker syntax on the ticket input. opts are applied
// after the default checkers.
func Default(opts ...Option) *Guardrails {
	return New(append([]Option{
		WithChecker(NewPromptInjectionDetector()),
		WithChecker(MaxLength(256)),
		WithChecker(Ticker("ticket")),
	}, opts...)...)
}

// WithChecker appends a checker.
func WithChecker(c InputChecker) Option {
	return func(g *Guardrails) {
		if c != nil {
			g.checkers = append(g.checkers, c)
		}
	}
}

// WithLogger sets the logger used for blocked inputs.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guardrails) {
		g.logger = logger
	}
}

// CheckInput returns the first blocking result for one input.
func (g *Guardrails) CheckInput(ctx context.Context, name, value string) CheckResult {
	for _, c := range g.checkers {
		res := c.CheckInput(ctx, name, value)
		if res.Blocked {
			res.GuardrailID = c.ID()
			return res
		}
	}
	return CheckResult{}
}

// CheckInputs checks inputs in name order and fails with INVALID_INPUT on
// the first blocked value.
func (g *Guardrails) CheckInputs(ctx context.Context, inputs map[string]string) error {
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return resilience.ContextError(ctx, "guardrails")
		}
		res := g.CheckInput(ctx, name, inputs[name])
		if !res.Blocked {
			continue
		}
		g.log().Warn("guardrails.input.blocked",
			slog.String("input", name),
			slog.String("guardrail", res.GuardrailID),
			slog.String("reason", res.Reason),
		)
		return errors.New(errors.CodeInvalidInput, "input "+name+" rejected: "+res.Reason, nil).
			WithContext("input", name).
			WithContext("guardrail", res.GuardrailID)
	}
	return nil
}

func (g *Guardrails) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}
