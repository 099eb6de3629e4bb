package planner

import (
	"sync"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// Run is the state of one execution of a graph. It is written only by the
// scheduling goroutine; accessors are safe to call from other goroutines.
type Run struct {
	ID     string
	Inputs map[string]string
	// Budget is the run-wide iteration allowance shared by all agents.
	Budget *agent.IterationBudget

	mu          sync.RWMutex
	status      core.RunStatus
	taskCount   int
	outputs     map[string]string
	states      map[string]core.TaskState
	transitions map[string][]core.TaskState
	delegations []DelegationRecord
	trace       []TraceEntry
	startedAt   time.Time
	finishedAt  time.Time
}

// NewRun creates a pending run. maxIterations <= 0 leaves the run-wide
// iteration count unbounded.
func NewRun(id string, inputs map[string]string, maxIterations int) *Run {
	in := make(map[string]string, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &Run{
		ID:          id,
		Inputs:      in,
		Budget:      agent.NewIterationBudget(maxIterations),
		status:      core.RunPending,
		outputs:     make(map[string]string),
		states:      make(map[string]core.TaskState),
		transitions: make(map[string][]core.TaskState),
	}
}

func (r *Run) start(tasks []Task, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = core.RunRunning
	r.taskCount = len(tasks)
	r.startedAt = now
	for _, t := range tasks {
		r.states[t.ID] = core.TaskPending
		r.transitions[t.ID] = []core.TaskState{core.TaskPending}
	}
}

func (r *Run) finish(status core.RunStatus, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.finishedAt = now
}

// transition moves a task along the state machine. Illegal edges are
// scheduler defects.
func (r *Run) transition(taskID string, next core.TaskState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.states[taskID]
	if !ok || !cur.CanTransition(next) {
		return errors.Newf(errors.CodeInternalInconsistency, "illegal transition %s -> %s", cur, next).
			WithTask(taskID)
	}
	r.states[taskID] = next
	r.transitions[taskID] = append(r.transitions[taskID], next)
	return nil
}

func (r *Run) setOutput(taskID, output string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.outputs[taskID]; exists {
		return errors.New(errors.CodeInternalInconsistency, "task output written twice", nil).WithTask(taskID)
	}
	r.outputs[taskID] = output
	return nil
}

func (r *Run) addDelegation(rec DelegationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegations = append(r.delegations, rec)
}

func (r *Run) addTrace(entry TraceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Transitions = append([]core.TaskState(nil), r.transitions[entry.TaskID]...)
	r.trace = append(r.trace, entry)
}

// Status returns the run status.
func (r *Run) Status() core.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// TaskCount returns the number of tasks in the run's graph.
func (r *Run) TaskCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taskCount
}

// Output returns the committed output of a succeeded task.
func (r *Run) Output(taskID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[taskID]
	return out, ok
}

// Outputs returns a copy of the output mapping.
func (r *Run) Outputs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.outputs))
	for k, v := range r.outputs {
		out[k] = v
	}
	return out
}

// State returns the current state of a task.
func (r *Run) State(taskID string) core.TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[taskID]
}

// Transitions returns every state a task went through, starting at pending.
func (r *Run) Transitions(taskID string) []core.TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.TaskState(nil), r.transitions[taskID]...)
}

// Delegations returns the delegation records in creation order.
func (r *Run) Delegations() []DelegationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DelegationRecord(nil), r.delegations...)
}

// DelegationCount returns how many delegation attempts were made.
func (r *Run) DelegationCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.delegations)
}

// Trace returns the per-dispatch trace entries in completion order.
func (r *Run) Trace() []TraceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TraceEntry(nil), r.trace...)
}

// Duration returns the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.finishedAt.IsZero() {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}
