package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskloom/internal/graph"
	"github.com/ShayCichocki/taskloom/internal/session"
)

// Error codes surfaced to users next to the apology line.
const (
	CodePlanningFailed      = "PLANNING_FAILED"
	CodeDependencyCycle     = "DEPENDENCY_CYCLE"
	CodeParameterResolution = "PARAMETER_RESOLUTION"
	CodeTaskFailed          = "TASK_FAILED"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeInvalidResolution   = "INVALID_RESOLUTION"
	CodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	CodeSessionBusy         = "SESSION_BUSY"
	CodeConfirmationPending = "CONFIRMATION_PENDING"
	CodeNothingPending      = "NOTHING_PENDING"
	CodeInternal            = "INTERNAL_ERROR"
)

var (
	// ErrNoPendingConfirmation is returned by Resume and Cancel when the
	// session has nothing suspended.
	ErrNoPendingConfirmation = errors.New("no pending confirmation")
	// ErrConfirmationPending is returned when a new run is started while the
	// session still awaits a confirmation. Resume or Cancel it first.
	ErrConfirmationPending = errors.New("a confirmation is pending for this session")
	// ErrReferenceNotCompleted marks a placeholder pointing at a task that has not completed.
	ErrReferenceNotCompleted = errors.New("referenced task is not completed")
	// ErrUnknownReference marks a placeholder pointing at a task outside the run.
	ErrUnknownReference = errors.New("referenced task does not exist")
	// ErrMissingField marks a placeholder path that does not exist in the result.
	ErrMissingField = errors.New("referenced field does not exist")
)

// PlanningError means the plan could not be executed at all. No tool ran.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err == nil {
		return "planning failed: " + e.Reason
	}
	return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }
func (e *PlanningError) Code() string  { return CodePlanningFailed }

// DependencyCycleError means the plan's dependencies form a loop. No tool ran.
type DependencyCycleError struct {
	// Path is the depends-on chain, first element repeated at the end.
	Path []string
	Err  error
}

func (e *DependencyCycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *DependencyCycleError) Unwrap() error { return e.Err }
func (e *DependencyCycleError) Code() string  { return CodeDependencyCycle }

// ParameterResolutionError is local to one task: a ${...} reference could
// not be substituted.
type ParameterResolutionError struct {
	TaskID    string
	Reference string
	Err       error
}

func (e *ParameterResolutionError) Error() string {
	return fmt.Sprintf("task %s: resolve %s: %v", e.TaskID, e.Reference, e.Err)
}

func (e *ParameterResolutionError) Unwrap() error { return e.Err }
func (e *ParameterResolutionError) Code() string  { return CodeParameterResolution }

// ToolExecutionError is a task failure after the optional fallback attempt.
type ToolExecutionError struct {
	TaskID       string
	Tool         string
	FallbackTool string
	Err          error
}

func (e *ToolExecutionError) Error() string {
	if e.FallbackTool != "" {
		return fmt.Sprintf("task %s: %s failed (fallback %s also failed): %v", e.TaskID, e.Tool, e.FallbackTool, e.Err)
	}
	return fmt.Sprintf("task %s: %s failed: %v", e.TaskID, e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
func (e *ToolExecutionError) Code() string  { return CodeTaskFailed }

// SessionExpiredError means a resume targeted a session that was evicted.
// The caller must plan again from scratch.
type SessionExpiredError struct {
	UserID string
	Err    error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session for user %s expired or not found", e.UserID)
}

func (e *SessionExpiredError) Unwrap() error { return e.Err }
func (e *SessionExpiredError) Code() string  { return CodeSessionExpired }

// InvalidResolutionError means the caller's answer matched no option.
// The pending confirmation is kept.
type InvalidResolutionError struct {
	Input    string
	Expected []string
	Reason   string
}

func (e *InvalidResolutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid resolution %q: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("invalid resolution %q: expected one of %s", e.Input, strings.Join(e.Expected, ", "))
}

func (e *InvalidResolutionError) Code() string { return CodeInvalidResolution }

// ConfirmationTimeoutError means the pending confirmation waited too long
// and was discarded.
type ConfirmationTimeoutError struct {
	TaskID string
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation for task %s timed out", e.TaskID)
}

func (e *ConfirmationTimeoutError) Code() string { return CodeConfirmationTimeout }

type codedError interface {
	Code() string
}

// ErrorCode returns the internal code for err, or CodeInternal.
func ErrorCode(err error) string {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	switch {
	case errors.Is(err, session.ErrBusy):
		return CodeSessionBusy
	case errors.Is(err, ErrConfirmationPending):
		return CodeConfirmationPending
	case errors.Is(err, ErrNoPendingConfirmation):
		return CodeNothingPending
	}
	return CodeInternal
}

// UserMessage renders err as one apologetic line plus its internal code.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var lead string
	switch ErrorCode(err) {
	case CodePlanningFailed:
		lead = "Sorry, I could not turn that request into a runnable plan."
	case CodeDependencyCycle:
		lead = "Sorry, the plan's steps depend on each other in a loop, so nothing was run."
	case CodeSessionExpired:
		lead = "Sorry, that conversation has expired. Please start the request again."
	case CodeInvalidResolution:
		lead = "Sorry, I did not understand that choice."
	case CodeConfirmationTimeout:
		lead = "Sorry, the confirmation took too long and the pending step was dropped."
	case CodeSessionBusy:
		lead = "Sorry, another request for this session is still running."
	case CodeConfirmationPending:
		lead = "Sorry, an earlier request is still waiting for your confirmation. Answer or cancel it first."
	case CodeNothingPending:
		lead = "Sorry, there is nothing waiting for confirmation."
	case CodeTaskFailed, CodeParameterResolution:
		lead = "Sorry, a step could not be completed."
	default:
		lead = "Sorry, something went wrong."
	}
	return fmt.Sprintf("%s (code: %s)", lead, ErrorCode(err))
}

// wrapGraphError maps resolver failures onto the taxonomy.
func wrapGraphError(err error) error {
	var gerr *graph.GraphError
	if errors.Is(err, graph.ErrCycleDetected) && errors.As(err, &gerr) {
		return &DependencyCycleError{Path: gerr.Path, Err: err}
	}
	return &PlanningError{Reason: "invalid task graph", Err: err}
}
