package runtime

import (
	"time"

	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
	"github.com/smkhb/Stock-Agent/pkg/planner"
)

// RunResult summarizes a finished run.
type RunResult struct {
	RunID       string
	Status      core.RunStatus
	Result      string
	Outputs     map[string]string
	Trace       []planner.TraceEntry
	Delegations []planner.DelegationRecord
	Duration    time.Duration
}

func newRunResult(run *planner.Run, out string) *RunResult {
	return &RunResult{
		RunID:       run.ID,
		Status:      run.Status(),
		Result:      out,
		Outputs:     run.Outputs(),
		Trace:       run.Trace(),
		Delegations: run.Delegations(),
		Duration:    run.Duration(),
	}
}

// Payload is the external representation of a run outcome.
type Payload struct {
	Status      string                     `json:"status"`
	RunID       string                     `json:"run_id,omitempty"`
	Result      string                     `json:"result,omitempty"`
	Trace       []planner.TraceEntry       `json:"trace,omitempty"`
	Delegations []planner.DelegationRecord `json:"delegations,omitempty"`
	ErrorKind   string                     `json:"error_kind,omitempty"`
	Message     string                     `json:"message,omitempty"`
	TaskID      string                     `json:"task_id,omitempty"`
	CauseChain  []string                   `json:"cause_chain,omitempty"`
}

// NewPayload converts a Kickoff outcome. A non-nil err always yields a
// failed payload; withTrace attaches the trace and delegation records.
func NewPayload(result *RunResult, err error, withTrace bool) Payload {
	var p Payload
	if result != nil {
		p.RunID = result.RunID
		if withTrace {
			p.Trace = result.Trace
			p.Delegations = result.Delegations
		}
	}
	if err != nil {
		ce := errors.AsCrewError(err)
		p.Status = string(core.RunFailed)
		p.ErrorKind = string(ce.Code)
		p.Message = ce.Message
		p.TaskID = failedTask(err)
		p.CauseChain = errors.Chain(err)
		return p
	}
	if result == nil {
		p.Status = string(core.RunFailed)
		p.ErrorKind = string(errors.CodeInternalInconsistency)
		p.Message = "run produced no result"
		return p
	}
	p.Status = string(core.RunSucceeded)
	p.Result = result.Result
	return p
}

// StatusCode returns the HTTP status matching a Kickoff error.
func StatusCode(err error) int {
	if err == nil {
		return 200
	}
	return errors.AsCrewError(err).StatusCode
}

// failedTask returns the first task id recorded in the error chain.
func failedTask(err error) string {
	for err != nil {
		if ce, ok := err.(*errors.CrewError); ok {
			if ce.TaskID != "" {
				return ce.TaskID
			}
			err = ce.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
