// Package planner turns a free-form request into a raw task list.
//
// The planner itself is an external collaborator; this package holds the
// interface the engine consumes, the parsing and validation applied to every
// plan regardless of source, and adapters for Claude, OpenAI-compatible
// endpoints, and plan files.
package planner

import (
	"context"
	"errors"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ErrInvalidPlan marks a plan that cannot be executed as written.
var ErrInvalidPlan = errors.New("invalid plan")

// ToolSpec advertises one capability to a planner.
type ToolSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Mutating    bool   `json:"mutating" yaml:"mutating"`
}

// Planner decomposes a request into tasks. An empty slice with a nil error
// means the request was not actionable.
type Planner interface {
	Decompose(ctx context.Context, request string, tools []ToolSpec, sessionSummary string) ([]*models.Task, error)
}

// ToolNames returns the names of specs in order.
func ToolNames(specs []ToolSpec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}
