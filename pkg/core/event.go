package core

import (
	"context"
	"sync"
	"time"
)

// EventType names a step of a run as seen by observers.
type EventType string

const (
	EventTaskReady      EventType = "task.ready"
	EventTaskDispatched EventType = "task.dispatched"
	EventTaskSucceeded  EventType = "task.succeeded"
	EventTaskFailed     EventType = "task.failed"
	EventTaskDelegated  EventType = "task.delegated"
	EventAgentIteration EventType = "agent.iteration"
	EventToolAttempt    EventType = "tool.attempt"
)

// Event is one observation. Agent is empty for scheduler-level events.
type Event struct {
	Type      EventType
	RunID     string
	TaskID    string
	Agent     string
	Timestamp time.Time
	Payload   map[string]any
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(eventType EventType, runID, taskID, agent string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		TaskID:    taskID,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// EventEmitter observes events. Emit is called from scheduler and agent
// goroutines and must not block.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoopEventEmitter drops every event.
type NoopEventEmitter struct{}

func (NoopEventEmitter) Emit(context.Context, Event) {}

// Fanout sends each event to every non-nil emitter in order.
func Fanout(emitters ...EventEmitter) EventEmitter {
	var live []EventEmitter
	for _, e := range emitters {
		if e != nil {
			live = append(live, e)
		}
	}
	switch len(live) {
	case 0:
		return NoopEventEmitter{}
	case 1:
		return live[0]
	}
	return EmitterFunc(func(ctx context.Context, event Event) {
		for _, e := range live {
			e.Emit(ctx, event)
		}
	})
}

// EventRecorder keeps events in emission order. Safe for concurrent use.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *EventRecorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a snapshot.
func (r *EventRecorder) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// OfType returns the recorded events of one type.
func (r *EventRecorder) OfType(eventType EventType) []Event {
	return r.filter(func(ev Event) bool { return ev.Type == eventType })
}

func (r *EventRecorder) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
