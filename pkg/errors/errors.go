// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy used by the crew scheduler.
// Every failure surfaced to a caller carries one ErrorCode and the chain of causes.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies crew errors for recovery decisions and reporting.
type ErrorCode string

const (
	// CodeConfig indicates a malformed graph or registry detected before execution.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeCycleDetected indicates the task graph contains a dependency cycle.
	CodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// CodeMultipleTerminalTasks indicates the task graph has more than one sink.
	CodeMultipleTerminalTasks ErrorCode = "MULTIPLE_TERMINAL_TASKS"

	// CodeDuplicateRole indicates an agent role was registered twice.
	CodeDuplicateRole ErrorCode = "DUPLICATE_ROLE"

	// CodeUnknownRole indicates a role was resolved without being registered.
	CodeUnknownRole ErrorCode = "UNKNOWN_ROLE"

	// CodeMissingInput indicates a required run input parameter is absent.
	CodeMissingInput ErrorCode = "MISSING_INPUT"

	// CodeInvalidInput indicates tool arguments failed the declared schema.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUpstreamUnavailable indicates the external source behind a tool errored.
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"

	// CodeEmptyResult indicates a tool returned nothing usable.
	CodeEmptyResult ErrorCode = "EMPTY_RESULT"

	// CodeToolExhausted indicates tool retries consumed the agent budget.
	CodeToolExhausted ErrorCode = "TOOL_EXHAUSTED"

	// CodeGeneration indicates the language-model capability failed.
	CodeGeneration ErrorCode = "GENERATION_ERROR"

	// CodeIterationBudgetExceeded indicates an agent ran out of iterations.
	CodeIterationBudgetExceeded ErrorCode = "ITERATION_BUDGET_EXCEEDED"

	// CodeDelegationExhausted indicates the run-wide delegation budget was spent.
	CodeDelegationExhausted ErrorCode = "DELEGATION_EXHAUSTED"

	// CodeTaskFailed indicates a task failed and could not be delegated.
	CodeTaskFailed ErrorCode = "TASK_FAILED"

	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCanceled indicates the run was cancelled by its caller.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeInternalInconsistency indicates a scheduler defect.
	CodeInternalInconsistency ErrorCode = "INTERNAL_INCONSISTENCY"
)

// CrewError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type CrewError struct {
	Code        ErrorCode
	Message     string
	Err         error
	TaskID      string
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // HTTP status for the invocation surface
}

// Error implements the error interface.
func (e *CrewError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.TaskID != "" {
		prefix = fmt.Sprintf("[%s task=%s]", e.Code, e.TaskID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *CrewError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *CrewError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		TaskID      string                 `json:"task_id,omitempty"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		TaskID:      e.TaskID,
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

// New creates a new CrewError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *CrewError {
	return &CrewError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates a CrewError without a cause using a format string.
func Newf(code ErrorCode, format string, args ...any) *CrewError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *CrewError) WithContext(key string, value interface{}) *CrewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *CrewError) WithAttribute(key, value string) *CrewError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
func (e *CrewError) WithRecoverable(recoverable bool) *CrewError {
	e.Recoverable = recoverable
	return e
}

// WithTask records the task the error belongs to.
func (e *CrewError) WithTask(taskID string) *CrewError {
	e.TaskID = taskID
	return e
}

// AsCrewError attempts to convert an error to a CrewError.
// Returns the first CrewError in the chain, or wraps err as an internal inconsistency.
func AsCrewError(err error) *CrewError {
	if err == nil {
		return nil
	}
	var ce *CrewError
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(CodeInternalInconsistency, "unclassified error", err)
}

// CodeOf returns the code of the outermost CrewError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *CrewError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Is reports whether any CrewError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if ce, ok := err.(*CrewError); ok && ce.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Chain returns the messages of every CrewError in err's chain, outermost first,
// followed by the root cause when it is not a CrewError.
func Chain(err error) []string {
	var out []string
	for err != nil {
		ce, ok := err.(*CrewError)
		if !ok {
			out = append(out, err.Error())
			break
		}
		entry := string(ce.Code) + ": " + ce.Message
		if ce.TaskID != "" {
			entry += " (task " + ce.TaskID + ")"
		}
		out = append(out, entry)
		err = ce.Err
	}
	return out
}

// RootCause returns the innermost error of the chain.
func RootCause(err error) error {
	for {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// IsConfig reports whether code belongs to the configuration family that must
// fail before any task is dispatched.
func IsConfig(code ErrorCode) bool {
	switch code {
	case CodeConfig, CodeCycleDetected, CodeMultipleTerminalTasks, CodeDuplicateRole, CodeUnknownRole:
		return true
	default:
		return false
	}
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *CrewError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeMissingInput, CodeInvalidInput:
		return 400
	case CodeConfig, CodeCycleDetected, CodeMultipleTerminalTasks, CodeDuplicateRole, CodeUnknownRole:
		return 422
	case CodeTimeout:
		return 504
	case CodeUpstreamUnavailable, CodeToolExhausted, CodeGeneration:
		return 502
	case CodeCanceled:
		return 499
	default:
		return 500
	}
}
