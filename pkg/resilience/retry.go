// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry and deadline helpers for tool and agent calls.
package resilience

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// RetryConfig bounds how often and how patiently a call is repeated.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps a single wait. Zero leaves the wait uncapped.
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each wait by up to this fraction, e.g. 0.1 is ±10%.
	Jitter float64

	// IsRecoverable reports whether err is worth another attempt. Nil retries
	// only crew errors flagged recoverable.
	IsRecoverable func(error) bool
	// OnAttempt observes each failed attempt, numbered from 1.
	OnAttempt func(attempt int, err error)
}

// DefaultRetryConfig makes three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: Recoverable,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

func (rc RetryConfig) WithOnAttempt(fn func(attempt int, err error)) RetryConfig {
	rc.OnAttempt = fn
	return rc
}

// Do calls fn until it succeeds, fails with an unrecoverable error or uses up
// MaxAttempts. It returns the attempts made and the last error. A context
// that ends while waiting yields TIMEOUT or CANCELED.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	limit := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = Recoverable
	}
	waits := rc.schedule()

	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		if attempt > 1 {
			if werr := sleep(ctx, waits.NextBackOff()); werr != nil {
				return attempt - 1, werr
			}
		}
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if rc.OnAttempt != nil {
			rc.OnAttempt(attempt, err)
		}
		if !recoverable(err) {
			return attempt, err
		}
	}
	return limit, err
}

// schedule builds the exponential wait sequence for rc.
func (rc RetryConfig) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialDelay
	b.RandomizationFactor = rc.Jitter
	b.Multiplier = rc.Multiplier
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	b.MaxInterval = rc.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ContextError(ctx, "retry")
	case <-timer.C:
		return nil
	}
}

// Recoverable reports whether err is a crew error flagged recoverable.
// Untyped errors are not retried.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	ce := errors.AsCrewError(err)
	return ce != nil && ce.Code != errors.CodeInternalInconsistency && ce.Recoverable
}
