package agent

import "sync/atomic"

// IterationBudget is the run-wide iteration allowance shared by every agent
// dispatched within one run. A nil budget is unlimited.
type IterationBudget struct {
	limit int64
	used  atomic.Int64
}

// NewIterationBudget returns a budget of limit iterations. limit <= 0 means unlimited.
func NewIterationBudget(limit int) *IterationBudget {
	return &IterationBudget{limit: int64(limit)}
}

// Take consumes one iteration and reports whether it was within the limit.
func (b *IterationBudget) Take() bool {
	if b == nil {
		return true
	}
	n := b.used.Add(1)
	return b.limit <= 0 || n <= b.limit
}

// Used returns the number of iterations taken, including refused ones.
func (b *IterationBudget) Used() int {
	if b == nil {
		return 0
	}
	return int(b.used.Load())
}

// Limit returns the configured limit.
func (b *IterationBudget) Limit() int {
	if b == nil {
		return 0
	}
	return int(b.limit)
}
