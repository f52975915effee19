package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ErrAborted is returned when the user leaves the picker without choosing.
var ErrAborted = errors.New("confirmation aborted")

// Picker is the bubbletea model for answering a suspended run.
type Picker struct {
	payload *models.ConfirmationPayload
	keys    KeyMap
	help    help.Model
	width   int

	cursor  int
	chosen  string
	aborted bool

	titleStyle    lipgloss.Style
	reasonStyle   lipgloss.Style
	itemStyle     lipgloss.Style
	selectedStyle lipgloss.Style
	optionStyle   lipgloss.Style
	descStyle     lipgloss.Style
	cancelStyle   lipgloss.Style
	chainStyle    lipgloss.Style
}

// NewPicker creates a picker for payload.
func NewPicker(payload *models.ConfirmationPayload) *Picker {
	return &Picker{
		payload: payload,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		width:   80,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),
		reasonStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")), // Yellow
		itemStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Gray
			PaddingLeft(2),
		selectedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")). // Green
			Bold(true),
		optionStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		descStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		cancelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")), // Red
		chainStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")), // Blue
	}
}

// Chosen returns the selected label and whether the user aborted.
func (p *Picker) Chosen() (string, bool) {
	return p.chosen, p.aborted
}

// Init implements tea.Model.
func (p *Picker) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.help.Width = msg.Width

	case tea.KeyMsg:
		opts := p.payload.Options
		switch {
		case key.Matches(msg, p.keys.Quit):
			p.aborted = true
			return p, tea.Quit
		case key.Matches(msg, p.keys.Up):
			if p.cursor > 0 {
				p.cursor--
			}
		case key.Matches(msg, p.keys.Down):
			if p.cursor < len(opts)-1 {
				p.cursor++
			}
		case key.Matches(msg, p.keys.Choose):
			if len(opts) > 0 {
				p.chosen = opts[p.cursor].Label
				return p, tea.Quit
			}
		case key.Matches(msg, p.keys.Cancel):
			p.chosen = models.CancelLabel
			return p, tea.Quit
		default:
			// Digits pick an option by its 1-based number.
			if n, err := strconv.Atoi(msg.String()); err == nil && n >= 1 && n <= len(opts) {
				p.cursor = n - 1
				p.chosen = opts[n-1].Label
				return p, tea.Quit
			}
		}
	}
	return p, nil
}

// View implements tea.Model.
func (p *Picker) View() string {
	var sb strings.Builder

	sb.WriteString(p.titleStyle.Render(" Confirmation needed "))
	sb.WriteString("\n\n")
	sb.WriteString(p.payload.AmbiguousTaskDescription)
	sb.WriteString("\n")
	if p.payload.Reason != "" {
		sb.WriteString(p.reasonStyle.Render(p.payload.Reason))
		sb.WriteString("\n")
	}

	for _, item := range p.payload.Items {
		sb.WriteString(p.itemStyle.Render("• " + fmt.Sprint(item)))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	for i, opt := range p.payload.Options {
		cursor := "  "
		label := p.optionStyle.Render(opt.Label)
		if opt.Label == models.CancelLabel {
			label = p.cancelStyle.Render(opt.Label)
		}
		if i == p.cursor {
			cursor = p.selectedStyle.Render("> ")
			label = p.selectedStyle.Render(opt.Label)
		}
		fmt.Fprintf(&sb, "%s%d. %s", cursor, i+1, label)
		if opt.Description != "" {
			sb.WriteString("  ")
			sb.WriteString(p.descStyle.Render(opt.Description))
		}
		sb.WriteString("\n")
	}

	if len(p.payload.RemainingTaskDescriptions) > 0 {
		sb.WriteString("\n")
		sb.WriteString(p.chainStyle.Render("Still to do after this:"))
		sb.WriteString("\n")
		for i, d := range p.payload.RemainingTaskDescriptions {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, d)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(p.help.View(p.keys))
	sb.WriteString("\n")
	return sb.String()
}

// Pick runs the picker on the terminal and returns the chosen label.
func Pick(payload *models.ConfirmationPayload, opts ...tea.ProgramOption) (string, error) {
	if payload == nil || len(payload.Options) == 0 {
		return "", fmt.Errorf("pick confirmation: no options")
	}

	final, err := tea.NewProgram(NewPicker(payload), opts...).Run()
	if err != nil {
		return "", fmt.Errorf("pick confirmation: %w", err)
	}
	label, aborted := final.(*Picker).Chosen()
	if aborted || label == "" {
		return "", ErrAborted
	}
	return label, nil
}
