// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	crewerrors "github.com/smkhb/Stock-Agent/pkg/errors"
)

func fastRetry(max int) RetryConfig {
	return DefaultRetryConfig().
		WithMaxAttempts(max).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(2 * time.Millisecond)
}

func upstreamDown() error {
	return crewerrors.New(crewerrors.CodeUpstreamUnavailable, "upstream down", nil).WithRecoverable(true)
}

func TestRetrySuccess(t *testing.T) {
	calls := 0
	attempts, err := fastRetry(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return upstreamDown()
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", attempts, calls)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	var seen []int
	attempts, err := fastRetry(2).
		WithOnAttempt(func(attempt int, _ error) { seen = append(seen, attempt) }).
		Do(context.Background(), func(context.Context) error {
			return upstreamDown()
		})
	if !crewerrors.Is(err, crewerrors.CodeUpstreamUnavailable) {
		t.Errorf("expected last upstream error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("unexpected attempt callbacks %v", seen)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"plain error", errors.New("boom")},
		{"invalid input", crewerrors.New(crewerrors.CodeInvalidInput, "bad args", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts, err := fastRetry(5).Do(context.Background(), func(context.Context) error {
				return tt.err
			})
			if err == nil {
				t.Fatalf("expected error")
			}
			if attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithMaxAttempts(10).WithInitialDelay(200 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts, err := config.Do(ctx, func(context.Context) error {
		return upstreamDown()
	})
	if !crewerrors.Is(err, crewerrors.CodeCanceled) {
		t.Fatalf("expected CANCELED, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestScheduleCapped(t *testing.T) {
	tests := []struct {
		name string
		rc   RetryConfig
		want []time.Duration
	}{
		{"capped", RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}, []time.Duration{10, 20, 40, 40}},
		{"uncapped default multiplier", RetryConfig{InitialDelay: 5 * time.Millisecond}, []time.Duration{5, 10, 20, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waits := tt.rc.schedule()
			for i, w := range tt.want {
				if got := waits.NextBackOff(); got != w*time.Millisecond {
					t.Errorf("wait %d: expected %v, got %v", i, w*time.Millisecond, got)
				}
			}
		})
	}
}

func TestRecoverable(t *testing.T) {
	if Recoverable(nil) || Recoverable(errors.New("plain")) {
		t.Fatal("untyped errors are not recoverable")
	}
	if !Recoverable(upstreamDown()) {
		t.Fatal("recoverable upstream error must be retried")
	}
	internal := crewerrors.New(crewerrors.CodeInternalInconsistency, "broken", nil).WithRecoverable(true)
	if Recoverable(internal) {
		t.Fatal("internal inconsistencies are never retried")
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: 10 * time.Millisecond, Operation: "slow"}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !crewerrors.Is(err, crewerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	err = WithTimeout(context.Background(), TimeoutConfig{Duration: time.Second}, func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWithTimeoutParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, TimeoutConfig{Duration: time.Second}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !crewerrors.Is(err, crewerrors.CodeCanceled) {
		t.Fatalf("expected CANCELED, got %v", err)
	}
}

func TestWithTimeoutKeepsTypedErrors(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{}, func(context.Context) error {
		return crewerrors.New(crewerrors.CodeEmptyResult, "nothing", nil)
	})
	if crewerrors.CodeOf(err) != crewerrors.CodeEmptyResult {
		t.Fatalf("expected EMPTY_RESULT, got %v", err)
	}
}

func TestWithTimeoutParentDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := WithTimeout(ctx, TimeoutConfig{Duration: time.Second, Operation: "task"}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !crewerrors.Is(err, crewerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if ce := crewerrors.AsCrewError(err); ce.Recoverable {
		t.Fatalf("parent deadline must not be retried")
	}
}
