package core

import "context"

// Memory is an agent's working memory for a single task execution.
// Implementations are owned by one task and never shared across a run.
type Memory interface {
	// Store appends data to the memory.
	Store(ctx context.Context, data any) error
	// Retrieve returns the entry selected by query.
	Retrieve(ctx context.Context, query any) (any, error)
}
