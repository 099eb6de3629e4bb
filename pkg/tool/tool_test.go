package tool

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/resilience"
)

type quoteArgs struct {
	Symbol string `json:"symbol" jsonschema:"required,description=Ticker symbol"`
	Days   int    `json:"days,omitempty" jsonschema:"description=Number of days,default=5"`
}

func quoteCapability(t *testing.T, fn Func[quoteArgs]) Capability {
	t.Helper()
	c, err := New(Config{Name: "quote", Description: "Latest quote", Tags: []string{"price"}}, fn)
	require.NoError(t, err)
	return c
}

func TestNewGeneratesSchema(t *testing.T) {
	c := quoteCapability(t, func(context.Context, quoteArgs) (any, error) { return "ok", nil })

	schema := c.InputSchema()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "symbol")
	assert.Contains(t, props, "days")
	assert.Equal(t, []string{"symbol"}, RequiredFields(schema))

	def := Definition(c)
	assert.Equal(t, "quote", def.Function.Name)
	assert.Equal(t, []string{"price"}, c.Tags())
}

func TestNewRejectsBadConfig(t *testing.T) {
	fn := func(context.Context, quoteArgs) (any, error) { return nil, nil }
	_, err := New(Config{Description: "x"}, fn)
	assert.True(t, errors.Is(err, errors.CodeConfig))
	_, err = New(Config{Name: "x"}, fn)
	assert.True(t, errors.Is(err, errors.CodeConfig))
	_, err = New[quoteArgs](Config{Name: "x", Description: "y"}, nil)
	assert.True(t, errors.Is(err, errors.CodeConfig))
}

func TestInvokeClassification(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		fn   Func[quoteArgs]
		code errors.ErrorCode
	}{
		{
			name: "missing required",
			args: map[string]any{},
			fn:   func(context.Context, quoteArgs) (any, error) { return "x", nil },
			code: errors.CodeInvalidInput,
		},
		{
			name: "blank required",
			args: map[string]any{"symbol": "  "},
			fn:   func(context.Context, quoteArgs) (any, error) { return "x", nil },
			code: errors.CodeInvalidInput,
		},
		{
			name: "wrong type",
			args: map[string]any{"symbol": "AAPL", "days": "many"},
			fn:   func(context.Context, quoteArgs) (any, error) { return "x", nil },
			code: errors.CodeInvalidInput,
		},
		{
			name: "empty result",
			args: map[string]any{"symbol": "AAPL"},
			fn:   func(context.Context, quoteArgs) (any, error) { return []string{}, nil },
			code: errors.CodeEmptyResult,
		},
		{
			name: "plain error is upstream",
			args: map[string]any{"symbol": "AAPL"},
			fn:   func(context.Context, quoteArgs) (any, error) { return nil, stderrors.New("503") },
			code: errors.CodeUpstreamUnavailable,
		},
		{
			name: "deadline is timeout",
			args: map[string]any{"symbol": "AAPL"},
			fn:   func(context.Context, quoteArgs) (any, error) { return nil, context.DeadlineExceeded },
			code: errors.CodeTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := quoteCapability(t, tt.fn).Invoke(context.Background(), tt.args)
			assert.Equal(t, tt.code, errors.CodeOf(err), "got %v", err)
		})
	}
}

func TestInvokeDecodesWeakTypes(t *testing.T) {
	var got quoteArgs
	c := quoteCapability(t, func(_ context.Context, a quoteArgs) (any, error) {
		got = a
		return map[string]any{"close": 190.5}, nil
	})
	out, err := c.Invoke(context.Background(), map[string]any{"symbol": "AAPL", "days": "7"})
	require.NoError(t, err)
	assert.Equal(t, quoteArgs{Symbol: "AAPL", Days: 7}, got)
	assert.Equal(t, `{"close":190.5}`, Render(out))
}

func TestNewWithValidation(t *testing.T) {
	c, err := NewWithValidation(Config{Name: "quote", Description: "q"},
		func(context.Context, quoteArgs) (any, error) { return "x", nil },
		func(a quoteArgs) error {
			if a.Days < 0 {
				return stderrors.New("days must be positive")
			}
			return nil
		})
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), map[string]any{"symbol": "AAPL", "days": -1})
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestSet(t *testing.T) {
	a := quoteCapability(t, func(context.Context, quoteArgs) (any, error) { return "a", nil })
	b, err := New(Config{Name: "news", Description: "news"}, func(context.Context, quoteArgs) (any, error) { return "b", nil })
	require.NoError(t, err)

	s, err := NewSet(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"quote", "news"}, s.Names())
	assert.Len(t, s.Definitions(), 2)
	got, ok := s.Get("news")
	assert.True(t, ok)
	assert.Same(t, b, got)

	_, err = NewSet(a, a)
	assert.True(t, errors.Is(err, errors.CodeConfig))

	var empty *Set
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Definitions())
}

func fastInvoker() *Invoker {
	inv := NewInvoker(50 * time.Millisecond)
	inv.Retry = resilience.DefaultRetryConfig().
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(2 * time.Millisecond)
	return inv
}

func TestInvokerExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	c := quoteCapability(t, func(context.Context, quoteArgs) (any, error) {
		calls.Add(1)
		return nil, errors.New(errors.CodeUpstreamUnavailable, "yahoo down", nil).WithRecoverable(true)
	})

	_, attempts, err := fastInvoker().Invoke(context.Background(), c, map[string]any{"symbol": "AAPL"}, 3)
	require.Error(t, err)
	assert.Equal(t, errors.CodeToolExhausted, errors.CodeOf(err))
	assert.True(t, errors.Is(err, errors.CodeUpstreamUnavailable))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokerRecovers(t *testing.T) {
	var calls atomic.Int32
	c := quoteCapability(t, func(context.Context, quoteArgs) (any, error) {
		if calls.Add(1) < 2 {
			return nil, stderrors.New("connection reset")
		}
		return "190.5", nil
	})

	out, attempts, err := fastInvoker().Invoke(context.Background(), c, map[string]any{"symbol": "AAPL"}, 3)
	require.NoError(t, err)
	assert.Equal(t, "190.5", out)
	assert.Equal(t, 2, attempts)
}

func TestInvokerTimesOutAttempts(t *testing.T) {
	c := quoteCapability(t, func(ctx context.Context, _ quoteArgs) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	inv := fastInvoker()
	inv.Timeout = 5 * time.Millisecond
	_, attempts, err := inv.Invoke(context.Background(), c, map[string]any{"symbol": "AAPL"}, 2)
	assert.Equal(t, errors.CodeToolExhausted, errors.CodeOf(err))
	assert.True(t, errors.Is(err, errors.CodeTimeout))
	assert.Equal(t, 2, attempts)
}

func TestInvokerDoesNotRetryObservableErrors(t *testing.T) {
	var calls atomic.Int32
	c := quoteCapability(t, func(context.Context, quoteArgs) (any, error) {
		calls.Add(1)
		return "", nil
	})

	_, attempts, err := fastInvoker().Invoke(context.Background(), c, map[string]any{"symbol": "AAPL"}, 5)
	assert.True(t, Observable(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int32(1), calls.Load())
}
