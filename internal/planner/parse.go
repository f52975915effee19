package planner

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// planDoc is the wire shape planners are asked to produce.
type planDoc struct {
	Tasks []planTask `json:"tasks" yaml:"tasks"`
}

type planTask struct {
	ID           string         `json:"id" yaml:"id"`
	Description  string         `json:"description" yaml:"description"`
	Tool         string         `json:"tool" yaml:"tool"`
	Parameters   map[string]any `json:"parameters" yaml:"parameters,omitempty"`
	Priority     *int           `json:"priority" yaml:"priority,omitempty"`
	Dependencies []string       `json:"dependencies" yaml:"dependencies,omitempty"`
	DependsOn    []string       `json:"depends_on" yaml:"depends_on,omitempty"`
	FallbackTool string         `json:"fallback_tool" yaml:"fallback_tool,omitempty"`
}

// StripFences removes a surrounding markdown code fence, if any.
// Text before the first fence and after the closing fence is dropped.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	body := s[start+3:]
	// Drop the language tag line (```json, ```yaml).
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ParsePlan parses planner output as JSON. Output that is not valid JSON is
// treated as a non-actionable request and yields an empty plan.
func ParsePlan(raw string) ([]*models.Task, error) {
	body := StripFences(raw)
	if body == "" {
		return nil, nil
	}

	var doc planDoc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		// Planners sometimes answer with a bare array.
		var tasks []planTask
		if arrErr := json.Unmarshal([]byte(body), &tasks); arrErr != nil {
			log.Printf("[planner] discarding unparseable plan: %v", err)
			return nil, nil
		}
		doc.Tasks = tasks
	}
	return normalize(doc.Tasks), nil
}

// ParsePlanYAML parses a YAML (or JSON) plan document. Unlike ParsePlan,
// a malformed document is an error: files are written by people.
func ParsePlanYAML(data []byte) ([]*models.Task, error) {
	var doc planDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse plan: %v", ErrInvalidPlan, err)
	}
	return normalize(doc.Tasks), nil
}

// EncodePlanYAML writes tasks in the document shape ParsePlanYAML reads.
func EncodePlanYAML(tasks []*models.Task) ([]byte, error) {
	doc := planDoc{Tasks: make([]planTask, 0, len(tasks))}
	for _, t := range tasks {
		priority := t.Priority
		doc.Tasks = append(doc.Tasks, planTask{
			ID:           t.ID,
			Description:  t.Description,
			Tool:         t.Tool,
			Parameters:   t.Parameters,
			Priority:     &priority,
			DependsOn:    t.DependsOn,
			FallbackTool: t.FallbackTool,
		})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return out, nil
}

// normalize converts wire tasks into models.Task values.
//   - missing IDs become task_<n>, n counting from 1
//   - a missing priority becomes models.DefaultPriority
//   - an "item" parameter is renamed to "item_name"
//   - a dependency naming another task's description is mapped to its ID
func normalize(in []planTask) []*models.Task {
	tasks := make([]*models.Task, 0, len(in))
	byDescription := make(map[string]string, len(in))

	for i, pt := range in {
		t := &models.Task{
			ID:           strings.TrimSpace(pt.ID),
			Description:  pt.Description,
			Tool:         strings.TrimSpace(pt.Tool),
			Parameters:   pt.Parameters,
			Priority:     models.DefaultPriority,
			Status:       models.TaskStatusPending,
			FallbackTool: pt.FallbackTool,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("task_%d", i+1)
		}
		if pt.Priority != nil {
			t.Priority = *pt.Priority
		}
		if t.Parameters == nil {
			t.Parameters = make(map[string]any)
		}
		if item, ok := t.Parameters["item"]; ok {
			if _, exists := t.Parameters["item_name"]; !exists {
				t.Parameters["item_name"] = item
			}
			delete(t.Parameters, "item")
		}
		t.DependsOn = append(append([]string(nil), pt.Dependencies...), pt.DependsOn...)
		if t.Description != "" {
			byDescription[t.Description] = t.ID
		}
		tasks = append(tasks, t)
	}

	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}
	for _, t := range tasks {
		for i, dep := range t.DependsOn {
			if ids[dep] {
				continue
			}
			if id, ok := byDescription[dep]; ok {
				t.DependsOn[i] = id
			}
		}
	}
	return tasks
}

// ValidatePlan checks a plan against the tool catalog before anything runs.
// Cycles are left to the dependency resolver.
func ValidatePlan(tasks []*models.Task, toolNames []string) error {
	known := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		known[n] = true
	}

	ids := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t == nil {
			return fmt.Errorf("%w: task %d is nil", ErrInvalidPlan, i)
		}
		if t.ID == "" {
			return fmt.Errorf("%w: task %d has no id", ErrInvalidPlan, i)
		}
		if ids[t.ID] {
			return fmt.Errorf("%w: duplicate task id %s", ErrInvalidPlan, t.ID)
		}
		ids[t.ID] = true

		if t.Tool == "" {
			return fmt.Errorf("%w: task %s has no tool", ErrInvalidPlan, t.ID)
		}
		if len(known) > 0 && !known[t.Tool] {
			return fmt.Errorf("%w: task %s uses unknown tool %q", ErrInvalidPlan, t.ID, t.Tool)
		}
		if t.FallbackTool != "" && len(known) > 0 && !known[t.FallbackTool] {
			return fmt.Errorf("%w: task %s uses unknown fallback tool %q", ErrInvalidPlan, t.ID, t.FallbackTool)
		}
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidPlan, t.ID, dep)
			}
		}
	}
	return nil
}
