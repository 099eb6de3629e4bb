package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/memory"
)

// TraceEntry records one dispatch of a task.
type TraceEntry struct {
	RunID         string           `json:"run_id"`
	TaskID        string           `json:"task_id"`
	Agent         agent.Role       `json:"agent"`
	Status        core.TaskState   `json:"status"`
	Attempt       int              `json:"attempt"`
	DelegatedFrom agent.Role       `json:"delegated_from,omitempty"`
	Transitions   []core.TaskState `json:"transitions,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Duration      time.Duration    `json:"duration"`
	Iterations    int              `json:"iterations"`
	ToolAttempts  int              `json:"tool_attempts"`
	OutputDigest  string           `json:"output_digest,omitempty"`
	ErrorCode     string           `json:"error_code,omitempty"`
	Error         string           `json:"error,omitempty"`
	Memory        []memory.Entry   `json:"memory,omitempty"`
}

// Digest returns a short content hash of an output.
func Digest(output string) string {
	sum := sha256.Sum256([]byte(output))
	return "sha256:" + hex.EncodeToString(sum[:8])
}

// TraceStore persists trace entries.
type TraceStore interface {
	Record(ctx context.Context, entry TraceEntry) error
	List(ctx context.Context, filter TraceFilter) ([]TraceEntry, error)
}

// TraceFilter limits trace queries.
type TraceFilter struct {
	RunID  string
	TaskID string
	Status string
	Limit  int
}

// MemoryTraceStore keeps trace entries in memory.
type MemoryTraceStore struct {
	mu      sync.Mutex
	entries []TraceEntry
}

// NewMemoryTraceStore returns an in-memory trace store.
func NewMemoryTraceStore() *MemoryTraceStore {
	return &MemoryTraceStore{}
}

// Record appends a trace entry.
func (s *MemoryTraceStore) Record(_ context.Context, entry TraceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List returns filtered trace entries.
func (s *MemoryTraceStore) List(_ context.Context, filter TraceFilter) ([]TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !filter.match(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f TraceFilter) match(e TraceEntry) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Status != "" && string(e.Status) != f.Status {
		return false
	}
	return true
}

// normalizeTraceTime ensures timestamps are in UTC.
func normalizeTraceTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
