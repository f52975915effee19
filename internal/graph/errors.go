package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates a task depends on an id not in the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDuplicateTask indicates two tasks share an id.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrInvalidTask indicates a nil task or a task without an id.
	ErrInvalidTask = errors.New("invalid task")
)

// GraphError wraps a validation failure with the offending task and,
// for cycles, the dependency chain that closes the loop.
type GraphError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// TaskID is the task where the failure was detected.
	TaskID string
	// Path is the depends-on chain for cycles, first element repeated at the end.
	Path []string
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func cycleError(path []string) error {
	var taskID string
	if len(path) > 0 {
		taskID = path[0]
	}
	return &GraphError{
		Kind:   ErrCycleDetected,
		TaskID: taskID,
		Path:   path,
		Msg:    strings.Join(path, " -> "),
	}
}

func unknownDependencyError(taskID, depID string) error {
	return &GraphError{
		Kind:   ErrUnknownDependency,
		TaskID: taskID,
		Msg:    fmt.Sprintf("task %s depends on unknown task %s", taskID, depID),
	}
}

func duplicateError(taskID string) error {
	return &GraphError{
		Kind:   ErrDuplicateTask,
		TaskID: taskID,
		Msg:    fmt.Sprintf("task id %s appears more than once", taskID),
	}
}

func invalidTaskError(index int) error {
	return &GraphError{
		Kind: ErrInvalidTask,
		Msg:  fmt.Sprintf("task at position %d is nil or has no id", index),
	}
}
