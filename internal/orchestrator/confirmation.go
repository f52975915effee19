package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ConfirmationGate freezes a run that hit an ambiguous task and later turns
// the caller's answer into a replacement task for the ambiguous slot.
// It holds no per-run state; suspended runs live in the session.
type ConfirmationGate struct {
	timeout time.Duration
	now     func() time.Time
}

// NewConfirmationGate creates a gate. A zero timeout never expires contexts.
func NewConfirmationGate(timeout time.Duration, now func() time.Time) *ConfirmationGate {
	if now == nil {
		now = time.Now
	}
	return &ConfirmationGate{timeout: timeout, now: now}
}

// Suspend builds the context for a run stopped on task. completed is the
// full set of completed tasks; remaining must start with task.
func (g *ConfirmationGate) Suspend(runID string, task *models.Task, amb *models.Ambiguity, completed map[string]*models.Task, remaining, failed []*models.Task) *models.ConfirmationContext {
	c := &models.ConfirmationContext{
		RunID:           runID,
		TaskID:          task.ID,
		TaskDescription: task.Description,
		Options:         SynthesizeOptions(task, amb),
		Completed:       make(map[string]*models.Task, len(completed)),
		Remaining:       models.CloneTasks(remaining),
		Failed:          models.CloneTasks(failed),
		CreatedAt:       g.now(),
	}
	if amb != nil {
		c.Reason = amb.Reason
		if amb.Items != nil {
			c.Items = models.CloneValue(amb.Items).([]any)
		}
	}
	for id, t := range completed {
		c.Completed[id] = t.Clone()
	}
	debugLog("[gate] suspended run %s on %s with options %v", runID, task.ID, c.Labels())
	return c
}

// Expired reports whether c waited longer than the confirmation timeout.
func (g *ConfirmationGate) Expired(c *models.ConfirmationContext) bool {
	return g.timeout > 0 && g.now().Sub(c.CreatedAt) > g.timeout
}

// Payload renders c for the caller, prompt included.
func (g *ConfirmationGate) Payload(c *models.ConfirmationContext) *models.ConfirmationPayload {
	p := c.Payload()
	p.Prompt = RenderPrompt(p)
	return p
}

// SynthesizeOptions turns a tool's ambiguity into concrete options.
// Label-only options become copies of task with id <task>_<label> and a
// "strategy" parameter. A cancel option is always present.
func SynthesizeOptions(task *models.Task, amb *models.Ambiguity) []models.ConfirmationOption {
	var given []models.ConfirmationOption
	if amb != nil {
		given = amb.Options
	}
	if len(given) == 0 {
		labels := []string{models.LabelConfirm, models.CancelLabel}
		if amb != nil && len(amb.Items) > 1 {
			labels = models.MultiTargetLabels
		}
		given = models.Labels(labels...)
	}

	seen := make(map[string]bool, len(given)+1)
	out := make([]models.ConfirmationOption, 0, len(given)+1)
	for _, opt := range given {
		label := normalizeLabel(opt.Label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true

		if label == models.CancelLabel {
			out = append(out, models.ConfirmationOption{
				Label:       label,
				Description: orDefault(opt.Description, "Stop here and keep what already ran"),
			})
			continue
		}

		resolved := opt.ResolvesTo.Clone()
		if resolved == nil {
			resolved = task.Clone()
			resolved.ID = ""
			resolved.Description = fmt.Sprintf("%s (%s)", task.Description, label)
			if resolved.Parameters == nil {
				resolved.Parameters = make(map[string]any)
			}
			resolved.Parameters[models.StrategyParam] = label
		}
		if resolved.ID == "" {
			resolved.ID = task.ID + "_" + label
		}
		if resolved.Tool == "" {
			resolved.Tool = task.Tool
		}
		if resolved.DependsOn == nil {
			resolved.DependsOn = append([]string(nil), task.DependsOn...)
		}
		resolved.Status = models.TaskStatusPending
		resolved.Result = nil
		resolved.Error = ""
		resolved.CompletedAt = nil

		out = append(out, models.ConfirmationOption{
			Label:       label,
			Description: orDefault(opt.Description, resolved.Description),
			ResolvesTo:  resolved,
		})
	}

	if !seen[models.CancelLabel] {
		out = append(out, models.ConfirmationOption{
			Label:       models.CancelLabel,
			Description: "Stop here and keep what already ran",
		})
	}
	return out
}

// Resolve maps an answer onto the context. It returns the replacement task,
// or cancel=true when the caller chose to stop. Answers may be a label, a
// 1-based option number, or a full replacement task.
func (g *ConfirmationGate) Resolve(c *models.ConfirmationContext, res models.Resolution) (replacement *models.Task, cancel bool, err error) {
	if res.Task != nil {
		t := res.Task.Clone()
		if t.ID == "" {
			t.ID = c.TaskID
		}
		if t.Tool == "" {
			return nil, false, &InvalidResolutionError{Input: t.ID, Reason: "replacement task has no tool"}
		}
		if t.DependsOn == nil {
			if orig := findTask(c.Remaining, c.TaskID); orig != nil {
				t.DependsOn = append([]string(nil), orig.DependsOn...)
			}
		}
		if t.Description == "" {
			t.Description = c.TaskDescription
		}
		t.Status = models.TaskStatusPending
		return t, false, nil
	}

	label := normalizeLabel(res.Label)
	if n, convErr := strconv.Atoi(label); convErr == nil && n >= 1 && n <= len(c.Options) {
		label = c.Options[n-1].Label
	}
	if label == models.CancelLabel {
		return nil, true, nil
	}

	opt, ok := c.Option(label)
	if !ok {
		return nil, false, &InvalidResolutionError{Input: res.Label, Expected: c.Labels()}
	}
	if opt.ResolvesTo == nil {
		return nil, true, nil
	}
	return opt.ResolvesTo.Clone(), false, nil
}

// Splice returns the remaining tasks with replacement in the ambiguous slot.
// Dependencies and placeholders naming the ambiguous task are re-pointed to
// the replacement. Completed tasks are never part of the result.
func Splice(c *models.ConfirmationContext, replacement *models.Task) ([]*models.Task, error) {
	if _, done := c.Completed[replacement.ID]; done {
		return nil, &InvalidResolutionError{
			Input:  replacement.ID,
			Reason: fmt.Sprintf("task %s already completed", replacement.ID),
		}
	}
	for _, t := range c.Remaining {
		if t.ID != c.TaskID && t.ID == replacement.ID {
			return nil, &InvalidResolutionError{
				Input:  replacement.ID,
				Reason: fmt.Sprintf("task %s is already pending", replacement.ID),
			}
		}
	}
	// Failed and skipped tasks are carried into the resumed run by ID.
	if prior := findTask(c.Failed, replacement.ID); prior != nil {
		return nil, &InvalidResolutionError{
			Input:  replacement.ID,
			Reason: fmt.Sprintf("task %s already %s", replacement.ID, prior.Status),
		}
	}

	orig := c.TaskID
	renamed := replacement.ID != orig
	out := make([]*models.Task, 0, len(c.Remaining))
	placed := false

	for _, t := range c.Remaining {
		if t.ID == orig {
			r := replacement.Clone()
			r.Status = models.TaskStatusPending
			out = append(out, r)
			placed = true
			continue
		}
		nt := t.Clone()
		nt.Status = models.TaskStatusPending
		nt.Error = ""
		if renamed {
			for i, dep := range nt.DependsOn {
				if dep == orig {
					nt.DependsOn[i] = replacement.ID
				}
			}
			if nt.Parameters != nil {
				nt.Parameters = renameReferences(nt.Parameters, orig, replacement.ID).(map[string]any)
			}
		}
		out = append(out, nt)
	}
	if !placed {
		r := replacement.Clone()
		r.Status = models.TaskStatusPending
		out = append([]*models.Task{r}, out...)
	}
	return out, nil
}

// RenderPrompt formats the question shown to a person.
func RenderPrompt(p *models.ConfirmationPayload) string {
	var b strings.Builder
	if p.Reason != "" {
		fmt.Fprintf(&b, "%s\n", p.Reason)
	}
	fmt.Fprintf(&b, "Confirmation needed for: %s\n", p.AmbiguousTaskDescription)

	if len(p.Items) > 0 {
		b.WriteString("\nCandidates:\n")
		for i, item := range p.Items {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, renderValue(item))
		}
	}

	b.WriteString("\nOptions:\n")
	for i, opt := range p.Options {
		if opt.Description != "" {
			fmt.Fprintf(&b, "  %d. %s: %s\n", i+1, opt.Label, opt.Description)
		} else {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, opt.Label)
		}
	}

	if len(p.RemainingTaskDescriptions) > 0 {
		b.WriteString("\nStill to do after this:\n")
		for i, desc := range p.RemainingTaskDescriptions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, desc)
		}
	}

	fmt.Fprintf(&b, "\nReply with an option, or %q to stop.", models.CancelLabel)
	return b.String()
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func findTask(tasks []*models.Task, id string) *models.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
