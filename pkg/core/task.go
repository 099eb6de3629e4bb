package core

// TaskState describes where a task is in the scheduler state machine.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskReady      TaskState = "ready"
	TaskDispatched TaskState = "dispatched"
	TaskSucceeded  TaskState = "succeeded"
	TaskFailed     TaskState = "failed"
	TaskDelegated  TaskState = "delegated"
)

// Terminal reports whether no further transition can leave the state.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// CanTransition reports whether moving from s to next is a legal edge of the
// task state machine.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case TaskPending:
		return next == TaskReady
	case TaskReady:
		return next == TaskDispatched
	case TaskDispatched:
		return next == TaskSucceeded || next == TaskFailed || next == TaskDelegated
	case TaskDelegated:
		return next == TaskDispatched || next == TaskFailed
	default:
		return false
	}
}

// RunStatus describes the lifecycle of a whole run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)
