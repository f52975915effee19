package orchestrator

import (
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// EventType represents the type of progress event.
type EventType string

const (
	// EventRunStarted indicates a run (or a resumed run) began executing.
	EventRunStarted EventType = "run_started"
	// EventGroupStarted indicates an execution group is about to fan out.
	EventGroupStarted EventType = "group_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed after any fallback.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was not run because a dependency failed.
	EventTaskSkipped EventType = "task_skipped"
	// EventAwaitingConfirmation indicates the run suspended on an ambiguous task.
	EventAwaitingConfirmation EventType = "awaiting_confirmation"
	// EventRunCompleted indicates the run reached completed or failed.
	EventRunCompleted EventType = "run_completed"
	// EventRunCancelled indicates a suspended or interrupted run was cancelled.
	EventRunCancelled EventType = "run_cancelled"
)

// ProgressEvent represents an event emitted by the engine. Events of one
// run are emitted from a single goroutine, so their order is the run's order.
type ProgressEvent struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`
	// UserID owns the session.
	UserID string `json:"user_id"`
	// GroupIndex is the zero-based group for group and task events.
	GroupIndex int `json:"group_index"`
	// TaskIDs lists the group members for group_started.
	TaskIDs []string `json:"task_ids,omitempty"`
	// TaskID is the ID of the related task, if applicable.
	TaskID string `json:"task_id,omitempty"`
	// TaskDescription is the description of the related task, if applicable.
	TaskDescription string `json:"task_description,omitempty"`
	// Tool is the capability actually invoked.
	Tool string `json:"tool,omitempty"`
	// Message provides additional context about the event.
	Message string `json:"message,omitempty"`
	// Error contains error details for failure events.
	Error string `json:"error,omitempty"`
	// Code is the internal error code for failure events.
	Code string `json:"code,omitempty"`
	// Progress is attached to run-level events.
	Progress *models.Progress `json:"progress,omitempty"`
	// Confirmation is attached to awaiting_confirmation.
	Confirmation *models.ConfirmationPayload `json:"confirmation,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
