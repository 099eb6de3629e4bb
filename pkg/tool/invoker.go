package tool

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
	"github.com/smkhb/Stock-Agent/pkg/telemetry"
)

// Invoker calls capabilities with a per-attempt deadline and retries
// UPSTREAM_UNAVAILABLE and TIMEOUT failures with exponential backoff.
// Once the caller's attempt budget is spent the call fails with TOOL_EXHAUSTED.
type Invoker struct {
	// Retry supplies the backoff shape; MaxAttempts is replaced by the budget.
	Retry resilience.RetryConfig
	// Timeout bounds every attempt. Zero disables the per-attempt deadline.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *telemetry.CrewMetrics
}

// NewInvoker returns an invoker with the default backoff.
func NewInvoker(timeout time.Duration) *Invoker {
	return &Invoker{
		Retry:   resilience.DefaultRetryConfig(),
		Timeout: timeout,
	}
}

// Invoke runs c with args, making at most budget attempts, and returns the
// result together with the number of attempts made.
func (inv *Invoker) Invoke(ctx context.Context, c Capability, args map[string]any, budget int) (any, int, error) {
	if budget < 1 {
		budget = 1
	}
	log := inv.logger()
	name := c.Name()

	rc := inv.Retry.
		WithMaxAttempts(budget).
		WithIsRecoverable(Retryable).
		WithOnAttempt(func(attempt int, err error) {
			log.Warn("tool.attempt.failed",
				slog.String("tool", name),
				slog.Int("attempt", attempt),
				slog.Int("budget", budget),
				slog.String("error_code", string(errors.CodeOf(err))),
				slog.String("error", err.Error()),
			)
		})

	var (
		out any
		n   int
	)
	attempts, err := rc.Do(ctx, func(ctx context.Context) error {
		n++
		res, err := inv.attempt(ctx, c, args, n)
		if err == nil {
			out = res
		}
		return err
	})
	if err == nil {
		return out, attempts, nil
	}
	if Retryable(err) && attempts >= budget {
		return nil, attempts, errors.New(errors.CodeToolExhausted, "tool retry budget exhausted", err).
			WithContext("tool", name).
			WithContext("attempts", attempts)
	}
	return nil, attempts, err
}

func (inv *Invoker) attempt(ctx context.Context, c Capability, args map[string]any, n int) (any, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "Tool.Invoke")
	defer span.End()

	start := time.Now()
	result := make(chan any, 1)
	err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: inv.Timeout, Operation: "tool:" + c.Name()}, func(ctx context.Context) error {
		res, err := c.Invoke(ctx, args)
		if err != nil {
			return err
		}
		result <- res
		return nil
	})
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	inv.Metrics.RecordToolAttempt(ctx, c.Name(), err == nil)
	if err != nil {
		span.SetAttributes(telemetry.ToolCallAttributes(c.Name(), n, elapsed, false)...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(telemetry.ToolCallAttributes(c.Name(), n, elapsed, true)...)
	return <-result, nil
}

func (inv *Invoker) logger() *slog.Logger {
	if inv.Logger != nil {
		return inv.Logger
	}
	return slog.Default()
}

// Retryable reports whether a tool failure may be retried with backoff.
func Retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeUpstreamUnavailable:
		return true
	case errors.CodeTimeout:
		return errors.AsCrewError(err).Recoverable
	default:
		return false
	}
}

// Observable reports whether a tool failure should be returned to the model
// as an observation rather than ending the task.
func Observable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeInvalidInput, errors.CodeEmptyResult:
		return true
	default:
		return false
	}
}
