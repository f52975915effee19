package planner

import (
	"context"
	"fmt"
	"os"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// FilePlanner returns a plan read from a YAML or JSON file. The request is
// ignored; it exists for scripted runs and dry runs of a tool catalog.
type FilePlanner struct {
	Path string
}

// NewFilePlanner creates a planner that reads path on every Decompose.
func NewFilePlanner(path string) *FilePlanner {
	return &FilePlanner{Path: path}
}

// Decompose implements Planner.
func (p *FilePlanner) Decompose(_ context.Context, _ string, _ []ToolSpec, _ string) ([]*models.Task, error) {
	return LoadPlanFile(p.Path)
}

// LoadPlanFile reads and normalises a plan file.
func LoadPlanFile(path string) ([]*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return ParsePlanYAML(data)
}

var _ Planner = (*FilePlanner)(nil)
