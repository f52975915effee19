package models

import "time"

// CancelLabel is the option label that cancels a suspended run.
const CancelLabel = "cancel"

// StrategyParam carries the chosen label into a label-derived replacement task.
const StrategyParam = "strategy"

// Common option labels for a mutation that matched several targets.
const (
	LabelOldest  = "oldest"
	LabelLatest  = "latest"
	LabelAll     = "all"
	LabelConfirm = "confirm"
)

// MultiTargetLabels are offered when one mutation matched several items.
var MultiTargetLabels = []string{LabelOldest, LabelLatest, LabelAll, CancelLabel}

// ConfirmationOption is one human-meaningful choice for an ambiguous task.
type ConfirmationOption struct {
	// Label is what the caller answers with.
	Label string `json:"label"`
	// Description explains the choice.
	Description string `json:"description,omitempty"`
	// ResolvesTo is the concrete replacement task. Nil for cancel.
	ResolvesTo *Task `json:"resolves_to,omitempty"`
}

// ConfirmationContext is the frozen state of a run suspended on ambiguity.
type ConfirmationContext struct {
	// RunID identifies the suspended run.
	RunID string `json:"run_id"`
	// TaskID is the ambiguous task.
	TaskID string `json:"task_id"`
	// TaskDescription is the ambiguous task's description.
	TaskDescription string `json:"task_description"`
	// Reason is why the tool could not decide.
	Reason string `json:"reason,omitempty"`
	// Items lists candidate targets reported by the tool, if any.
	Items []any `json:"items,omitempty"`
	// Options maps labels to concrete replacement tasks.
	Options []ConfirmationOption `json:"options"`
	// Completed snapshots every completed task, keyed by ID.
	Completed map[string]*Task `json:"completed"`
	// Remaining holds every task not yet started, in chain order.
	// The ambiguous task is first.
	Remaining []*Task `json:"remaining"`
	// Failed holds tasks that failed or were skipped before suspension.
	Failed []*Task `json:"failed,omitempty"`
	// CreatedAt is when the run suspended.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the context.
func (c *ConfirmationContext) Clone() *ConfirmationContext {
	if c == nil {
		return nil
	}
	out := *c
	if c.Items != nil {
		out.Items = CloneValue(c.Items).([]any)
	}
	out.Options = make([]ConfirmationOption, len(c.Options))
	for i, opt := range c.Options {
		opt.ResolvesTo = opt.ResolvesTo.Clone()
		out.Options[i] = opt
	}
	out.Completed = make(map[string]*Task, len(c.Completed))
	for id, t := range c.Completed {
		out.Completed[id] = t.Clone()
	}
	out.Remaining = CloneTasks(c.Remaining)
	if c.Failed != nil {
		out.Failed = CloneTasks(c.Failed)
	}
	return &out
}

// Option returns the option with the given label.
func (c *ConfirmationContext) Option(label string) (ConfirmationOption, bool) {
	for _, opt := range c.Options {
		if opt.Label == label {
			return opt, true
		}
	}
	return ConfirmationOption{}, false
}

// Labels returns the option labels in order.
func (c *ConfirmationContext) Labels() []string {
	labels := make([]string, 0, len(c.Options))
	for _, opt := range c.Options {
		labels = append(labels, opt.Label)
	}
	return labels
}

// Payload converts the context to what is shown to the caller.
func (c *ConfirmationContext) Payload() *ConfirmationPayload {
	p := &ConfirmationPayload{
		RunID:                    c.RunID,
		TaskID:                   c.TaskID,
		AmbiguousTaskDescription: c.TaskDescription,
		Reason:                   c.Reason,
		Items:                    c.Items,
		Options:                  c.Options,
	}
	for _, t := range c.Remaining {
		if t.ID == c.TaskID {
			continue
		}
		p.RemainingTaskDescriptions = append(p.RemainingTaskDescriptions, t.Description)
	}
	return p
}

// ConfirmationPayload is the caller-facing view of a suspension.
type ConfirmationPayload struct {
	RunID                     string               `json:"run_id"`
	TaskID                    string               `json:"task_id"`
	AmbiguousTaskDescription  string               `json:"ambiguous_task_description"`
	Reason                    string               `json:"reason,omitempty"`
	Items                     []any                `json:"items,omitempty"`
	Options                   []ConfirmationOption `json:"options"`
	RemainingTaskDescriptions []string             `json:"remaining_task_descriptions"`
	// Prompt is the rendered question, including the numbered remaining chain.
	Prompt string `json:"prompt"`
}

// Resolution is the caller's answer to a suspension.
// Either Label picks a listed option or Task supplies a replacement directly.
type Resolution struct {
	Label string `json:"label,omitempty"`
	Task  *Task  `json:"task,omitempty"`
}
