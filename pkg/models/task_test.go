package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"ready is valid", TaskStatusReady, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"awaiting_confirmation is valid", TaskStatusAwaitingConfirmation, true},
		{"skipped is valid", TaskStatusSkipped, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"legacy done is invalid", TaskStatus("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusReady, false},
		{TaskStatusRunning, false},
		{TaskStatusAwaitingConfirmation, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusReady, true},
		{TaskStatusReady, TaskStatusRunning, true},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusAwaitingConfirmation, true},
		{TaskStatusAwaitingConfirmation, TaskStatusPending, true},
		{TaskStatusPending, TaskStatusSkipped, true},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusCompleted, TaskStatusPending, false},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusSkipped, TaskStatusReady, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTask_CloneIsIndependent(t *testing.T) {
	done := time.Now()
	orig := &Task{
		ID:          "task_1",
		Tool:        "update_item",
		Parameters:  map[string]any{"name": "milk", "tags": []any{"dairy"}, "nested": map[string]any{"qty": 2}},
		DependsOn:   []string{"task_0"},
		CompletedAt: &done,
	}

	c := orig.Clone()
	c.Parameters["name"] = "eggs"
	c.Parameters["tags"].([]any)[0] = "protein"
	c.Parameters["nested"].(map[string]any)["qty"] = 5
	c.DependsOn[0] = "task_9"

	if orig.Parameters["name"] != "milk" {
		t.Errorf("orig name = %v, want milk", orig.Parameters["name"])
	}
	if orig.Parameters["tags"].([]any)[0] != "dairy" {
		t.Errorf("orig tags mutated: %v", orig.Parameters["tags"])
	}
	if orig.Parameters["nested"].(map[string]any)["qty"] != 2 {
		t.Errorf("orig nested mutated: %v", orig.Parameters["nested"])
	}
	if orig.DependsOn[0] != "task_0" {
		t.Errorf("orig DependsOn mutated: %v", orig.DependsOn)
	}
	if c.CompletedAt == orig.CompletedAt {
		t.Error("CompletedAt pointer shared between clone and original")
	}
}

func TestTask_CloneNil(t *testing.T) {
	var task *Task
	if task.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}

func TestOutcomeConstructors(t *testing.T) {
	if o := Success(42); o.Kind != OutcomeSuccess || o.Result != 42 {
		t.Errorf("Success(42) = %+v", o)
	}
	if o := Failure(errTest); o.Kind != OutcomeFailure || o.Err != errTest {
		t.Errorf("Failure = %+v", o)
	}
	o := NeedsConfirmation("two matches", Labels(LabelOldest, CancelLabel)...)
	if o.Kind != OutcomeAmbiguity {
		t.Fatalf("Kind = %s, want ambiguity", o.Kind)
	}
	if len(o.Ambiguity.Options) != 2 || o.Ambiguity.Options[1].Label != CancelLabel {
		t.Errorf("options = %+v", o.Ambiguity.Options)
	}
	if o.Err != nil {
		t.Error("ambiguity must not carry an error")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")
