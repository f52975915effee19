package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

func samplePayload() *models.ConfirmationPayload {
	return &models.ConfirmationPayload{
		RunID:                    "run-1",
		TaskID:                   "del",
		AmbiguousTaskDescription: "delete milk",
		Reason:                   "2 items named milk",
		Items:                    []any{"milk (Monday)", "milk (Friday)"},
		Options: []models.ConfirmationOption{
			{Label: "oldest", Description: "delete the oldest"},
			{Label: "latest", Description: "delete the latest"},
			{Label: "all"},
			{Label: models.CancelLabel, Description: "stop here"},
		},
		RemainingTaskDescriptions: []string{"delete milk", "tell the user"},
	}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPicker_Keys(t *testing.T) {
	tests := []struct {
		name        string
		keys        []tea.KeyMsg
		wantLabel   string
		wantAborted bool
	}{
		{
			name:      "enter picks first",
			keys:      []tea.KeyMsg{{Type: tea.KeyEnter}},
			wantLabel: "oldest",
		},
		{
			name:      "down then enter",
			keys:      []tea.KeyMsg{{Type: tea.KeyDown}, {Type: tea.KeyDown}, {Type: tea.KeyEnter}},
			wantLabel: "all",
		},
		{
			name:      "up stops at the top",
			keys:      []tea.KeyMsg{{Type: tea.KeyUp}, keyRunes("k"), {Type: tea.KeyEnter}},
			wantLabel: "oldest",
		},
		{
			name:      "down stops at the bottom",
			keys:      []tea.KeyMsg{keyRunes("j"), keyRunes("j"), keyRunes("j"), keyRunes("j"), keyRunes("j"), {Type: tea.KeyEnter}},
			wantLabel: models.CancelLabel,
		},
		{
			name:      "number",
			keys:      []tea.KeyMsg{keyRunes("2")},
			wantLabel: "latest",
		},
		{
			name:      "cancel key",
			keys:      []tea.KeyMsg{keyRunes("x")},
			wantLabel: models.CancelLabel,
		},
		{
			name:        "esc aborts",
			keys:        []tea.KeyMsg{{Type: tea.KeyDown}, {Type: tea.KeyEsc}},
			wantAborted: true,
		},
		{
			name:      "out of range number is ignored",
			keys:      []tea.KeyMsg{keyRunes("9"), {Type: tea.KeyEnter}},
			wantLabel: "oldest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPicker(samplePayload())
			var cmd tea.Cmd
			for _, k := range tt.keys {
				_, cmd = p.Update(k)
			}
			if cmd == nil {
				t.Fatal("expected the last key to quit")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected a quit command")
			}

			label, aborted := p.Chosen()
			if label != tt.wantLabel || aborted != tt.wantAborted {
				t.Errorf("Chosen = %q, %v; want %q, %v", label, aborted, tt.wantLabel, tt.wantAborted)
			}
		})
	}
}

func TestPicker_View(t *testing.T) {
	p := NewPicker(samplePayload())
	p.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	view := p.View()

	for _, want := range []string{
		"Confirmation needed",
		"delete milk",
		"2 items named milk",
		"milk (Friday)",
		"1. ",
		"oldest",
		"delete the latest",
		"4. ",
		"Still to do after this:",
		"2. tell the user",
		"enter",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestPick_NoOptions(t *testing.T) {
	if _, err := Pick(nil); err == nil {
		t.Error("expected error for nil payload")
	}
	_, err := Pick(&models.ConfirmationPayload{})
	if err == nil || errors.Is(err, ErrAborted) {
		t.Errorf("err = %v, want a no-options error", err)
	}
}
