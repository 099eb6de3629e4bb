// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation. Zero disables the deadline.
	Duration time.Duration

	// Operation names the guarded call in the resulting error.
	Operation string
}

// WithTimeout executes fn under a deadline derived from ctx.
// fn receives the bounded context and must honour it; a deadline hit is
// reported as errors.CodeTimeout while parent cancellation is reported as
// errors.CodeCanceled.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	if config.Duration <= 0 {
		return classifyContextErr(ctx, config, fn(ctx))
	}

	boundedCtx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(boundedCtx)
	}()

	select {
	case <-boundedCtx.Done():
		if ctx.Err() != nil {
			return ContextError(ctx, config.Operation)
		}
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", boundedCtx.Err()).
			WithContext("operation", config.Operation).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	case err := <-done:
		return classifyContextErr(ctx, config, err)
	}
}

func classifyContextErr(ctx context.Context, config TimeoutConfig, err error) error {
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) != "" {
		return err
	}
	if ctx.Err() != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		return ContextError(ctx, config.Operation)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", err).
			WithContext("operation", config.Operation).
			WithRecoverable(true)
	}
	return err
}

// ContextError converts the error of a finished parent context into a typed
// error. An expired deadline is a TIMEOUT that cannot be retried under the
// same context; an explicit cancel is CANCELED.
func ContextError(ctx context.Context, operation string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "deadline exceeded", err).
			WithContext("operation", operation)
	}
	return errors.New(errors.CodeCanceled, "operation canceled", err).
		WithContext("operation", operation)
}
