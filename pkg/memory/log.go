// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides the bounded log an agent keeps across the
// iterations of a single task.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/core"
)

// DefaultCapacity bounds a log when no capacity is given.
const DefaultCapacity = 32

// ErrNotFound indicates no matching entry was found.
var ErrNotFound = errors.New("memory: not found")

// Kind labels what produced an entry.
type Kind string

const (
	KindDraft       Kind = "draft"
	KindObservation Kind = "observation"
	KindFeedback    Kind = "feedback"
)

// Entry is a single iteration record.
type Entry struct {
	Iteration int       `json:"iteration"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}

// Log is an append-only window over the most recent entries. Once capacity
// is reached the oldest entry is evicted; entries are never edited.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
	evicted  int
	now      func() time.Time
}

var _ core.Memory = (*Log)(nil)

// NewLog creates an empty log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// Append records an entry, stamping it when At is zero.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.At.IsZero() {
		e.At = l.now()
	}
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
		l.evicted += over
	}
}

// Store implements core.Memory. data must be an Entry or a string.
func (l *Log) Store(_ context.Context, data any) error {
	switch v := data.(type) {
	case Entry:
		l.Append(v)
	case string:
		l.Append(Entry{Kind: KindObservation, Content: v})
	default:
		return fmt.Errorf("memory: unsupported entry type %T", data)
	}
	return nil
}

// Retrieve implements core.Memory. A nil query returns the latest entry;
// a func(Entry) bool returns the latest entry that satisfies it.
func (l *Log) Retrieve(_ context.Context, query any) (any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return nil, ErrNotFound
	}
	if query == nil {
		return l.entries[len(l.entries)-1], nil
	}
	match, ok := query.(func(Entry) bool)
	if !ok {
		return nil, errors.New("memory: unsupported query type")
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if match(l.entries[i]) {
			return l.entries[i], nil
		}
	}
	return nil, ErrNotFound
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Evicted returns how many entries fell out of the window.
func (l *Log) Evicted() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Render formats the retained entries for inclusion in a prompt.
func (l *Log) Render() string {
	entries := l.Entries()
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[iteration %d %s] %s\n", e.Iteration, e.Kind, e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
