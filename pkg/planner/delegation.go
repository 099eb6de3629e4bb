package planner

import (
	"context"
	"time"

	"github.com/smkhb/Stock-Agent/pkg/agent"
)

// DelegationRecord documents one attempt to reassign a failed task.
type DelegationRecord struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	TaskID    string     `json:"task_id"`
	From      agent.Role `json:"from"`
	Candidate agent.Role `json:"candidate,omitempty"`
	Reason    string     `json:"reason"`
	Accepted  bool       `json:"accepted"`
	CreatedAt time.Time  `json:"created_at"`
}

// Delegator decides which agent runs a task in hierarchical mode.
type Delegator interface {
	// Assign may override the declared agent before the first dispatch.
	Assign(ctx context.Context, run *Run, task Task, declared *agent.Agent) (*agent.Agent, error)

	// Delegate picks an alternate agent for a failed task. tried lists every
	// role already dispatched for the task. A nil agent with a rejected record
	// means no candidate qualified; an error fails the run.
	Delegate(ctx context.Context, run *Run, task Task, tried []agent.Role, cause error) (*agent.Agent, DelegationRecord, error)
}
