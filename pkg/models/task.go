package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are satisfied and the task is queued in a group.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the tool invocation is in flight.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully and holds a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusAwaitingConfirmation indicates the tool could not pick a unique target.
	TaskStatusAwaitingConfirmation TaskStatus = "awaiting_confirmation"
	// TaskStatusSkipped indicates the task was never invoked because a dependency failed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusAwaitingConfirmation, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition is expected within a run.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusSkipped
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:              {TaskStatusReady, TaskStatusSkipped, TaskStatusFailed},
	TaskStatusReady:                {TaskStatusRunning, TaskStatusFailed, TaskStatusSkipped, TaskStatusPending},
	TaskStatusRunning:              {TaskStatusCompleted, TaskStatusFailed, TaskStatusAwaitingConfirmation},
	TaskStatusAwaitingConfirmation: {TaskStatusPending},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DefaultPriority is used when a planner omits a priority.
const DefaultPriority = 2

// Task is one atomic tool invocation in a task graph.
type Task struct {
	// ID is the unique identifier for this task within its graph.
	ID string `json:"id" yaml:"id"`
	// Description is the human-readable purpose of the task.
	Description string `json:"description" yaml:"description"`
	// Tool is the capability name to invoke.
	Tool string `json:"tool" yaml:"tool"`
	// Parameters are passed to the tool. String values may contain
	// ${task_id.path} references to another task's result.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Priority breaks ties within an execution group. Lower runs first.
	Priority int `json:"priority" yaml:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status,omitempty"`
	// Result holds the tool output once the task is completed.
	Result any `json:"result,omitempty" yaml:"result,omitempty"`
	// Error contains the error message if the task failed or was skipped.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// FallbackTool is invoked once with the same parameters if Tool fails.
	FallbackTool string `json:"fallback_tool,omitempty" yaml:"fallback_tool,omitempty"`
	// UsedFallback is set when the result came from FallbackTool.
	UsedFallback bool `json:"used_fallback,omitempty" yaml:"-"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
}

// Clone returns a copy of the task whose parameter map and dependency
// slice can be mutated without affecting the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Parameters != nil {
		c.Parameters = CloneValue(t.Parameters).(map[string]any)
	}
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	c.Result = CloneValue(t.Result)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// CloneValue deep-copies maps and slices of the shapes produced by JSON
// and YAML decoding. Other values are returned as-is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneTasks clones every task in the slice.
func CloneTasks(tasks []*Task) []*Task {
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out
}
