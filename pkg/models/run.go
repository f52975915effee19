package models

// RunStatus is the top-level state of a run.
type RunStatus string

const (
	RunPlanned              RunStatus = "planned"
	RunResolving            RunStatus = "resolving"
	RunExecuting            RunStatus = "executing"
	RunCompleted            RunStatus = "completed"
	RunFailed               RunStatus = "failed"
	RunAwaitingConfirmation RunStatus = "awaiting_confirmation"
	RunCancelled            RunStatus = "cancelled"
)

// IsTerminal returns true for statuses that end a run.
// AwaitingConfirmation is not terminal: the run can be resumed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Progress reports how far a run has come.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
	IsComplete bool    `json:"is_complete"`
	IsPaused   bool    `json:"is_paused"`
}

// ComputeProgress derives progress from task states.
func ComputeProgress(tasks []*Task, paused bool) Progress {
	p := Progress{Total: len(tasks), IsPaused: paused}
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusSkipped:
			p.Skipped++
		}
	}
	p.Remaining = p.Total - p.Completed - p.Failed - p.Skipped
	if p.Total > 0 {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}
	p.IsComplete = p.Remaining == 0 && !paused
	return p
}

// RunResult is what a run hands back to its caller: either a final
// aggregate or a confirmation payload.
type RunResult struct {
	// RunID identifies the run across suspension.
	RunID string `json:"run_id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// Status is the run's state when it returned.
	Status RunStatus `json:"status"`
	// Tasks holds every task with its final state.
	Tasks []*Task `json:"tasks"`
	// Confirmation is set when Status is awaiting_confirmation.
	Confirmation *ConfirmationPayload `json:"confirmation,omitempty"`
	// Summary is the textual completion report.
	Summary string `json:"summary"`
	// Progress reports counts at return time.
	Progress Progress `json:"progress"`
	// CancelReason is set when Status is cancelled.
	CancelReason string `json:"cancel_reason,omitempty"`
	// RollbackRequired is informational: a cancelled run had already applied
	// mutating operations. Nothing is undone automatically.
	RollbackRequired bool `json:"rollback_required,omitempty"`
}

// Task returns the task with the given ID, or nil.
func (r *RunResult) Task(id string) *Task {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
