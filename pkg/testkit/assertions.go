// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package testkit

import (
	"strings"
	"testing"

	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/llm"
)

// AssertCode fails the test unless err carries code anywhere in its chain.
func AssertCode(t testing.TB, err error, code errors.ErrorCode) {
	t.Helper()
	if !errors.Is(err, code) {
		t.Fatalf("expected %s in error chain, got %v", code, err)
	}
}

// AssertTransitions compares a task's state history.
func AssertTransitions(t testing.TB, got []core.TaskState, want ...core.TaskState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, got)
		}
	}
}

// EventIndex returns the position of the first event of type for taskID, or -1.
func EventIndex(events []core.Event, eventType core.EventType, taskID string) int {
	for i, ev := range events {
		if ev.Type == eventType && ev.TaskID == taskID {
			return i
		}
	}
	return -1
}

// RequestAssertions provides fluent assertions on a chat request.
type RequestAssertions struct {
	t   testing.TB
	req llm.ChatRequest
}

// AssertRequest starts assertions on req.
func AssertRequest(t testing.TB, req llm.ChatRequest) *RequestAssertions {
	return &RequestAssertions{t: t, req: req}
}

// HasMessageCount asserts the number of messages.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != count {
		r.t.Errorf("expected %d messages, got %d", count, len(r.req.Messages))
	}
	return r
}

// HasSystemMessage asserts a system message contains the text.
func (r *RequestAssertions) HasSystemMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasMessage(llm.RoleSystem, contains)
}

// HasUserMessage asserts a user message contains the text.
func (r *RequestAssertions) HasUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasMessage(llm.RoleUser, contains)
}

// HasTool asserts a tool with the given name is offered.
func (r *RequestAssertions) HasTool(name string) *RequestAssertions {
	r.t.Helper()
	for _, tool := range r.req.Tools {
		if tool.Function.Name == name {
			return r
		}
	}
	r.t.Errorf("expected tool %q in request", name)
	return r
}

func (r *RequestAssertions) hasMessage(role llm.Role, contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == role && strings.Contains(msg.Content, contains) {
			return r
		}
	}
	r.t.Errorf("expected %s message containing %q", role, contains)
	return r
}
