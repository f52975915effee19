package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/ShayCichocki/taskloom/internal/orchestrator"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// markdownWidth is the word-wrap width for rendered reports.
const markdownWidth = 100

// eventPrinter is the terminal sink for progress events.
type eventPrinter struct {
	w io.Writer
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{w: w}
}

// Publish implements events.Sink.
func (p *eventPrinter) Publish(_ context.Context, ev orchestrator.ProgressEvent) error {
	line := formatEvent(ev)
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

// Close implements events.Sink.
func (p *eventPrinter) Close() error { return nil }

func formatEvent(ev orchestrator.ProgressEvent) string {
	name := ev.TaskDescription
	if name == "" {
		name = ev.TaskID
	}

	switch ev.Type {
	case orchestrator.EventGroupStarted:
		return fmt.Sprintf("%s group %d: %s", color.CyanString("▶"), ev.GroupIndex+1, strings.Join(ev.TaskIDs, ", "))
	case orchestrator.EventTaskCompleted:
		return fmt.Sprintf("  %s %s %s", color.GreenString("✓"), name, color.HiBlackString("(%s)", ev.Tool))
	case orchestrator.EventTaskFailed:
		return fmt.Sprintf("  %s %s: %s %s", color.RedString("✗"), name, ev.Error, color.HiBlackString("[%s]", ev.Code))
	case orchestrator.EventTaskSkipped:
		return fmt.Sprintf("  %s %s: %s", color.YellowString("↷"), name, ev.Message)
	case orchestrator.EventAwaitingConfirmation:
		return fmt.Sprintf("%s waiting for confirmation on %s", color.YellowString("?"), name)
	case orchestrator.EventRunCancelled:
		return fmt.Sprintf("%s run cancelled: %s", color.RedString("■"), ev.Message)
	default:
		return ""
	}
}

// renderResult writes result in the chosen format.
func renderResult(w io.Writer, result *models.RunResult, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)

	case formatMarkdown:
		out, err := renderMarkdown(orchestrator.BuildMarkdownReport(result))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		if err == nil && result.Confirmation != nil {
			_, err = fmt.Fprintln(w, resumeHint(result.Confirmation))
		}
		return err

	default:
		fmt.Fprintln(w, statusColor(result.Status).Sprint(result.Summary))
		if result.Confirmation != nil {
			fmt.Fprintln(w)
			fmt.Fprintln(w, result.Confirmation.Prompt)
			fmt.Fprintln(w, resumeHint(result.Confirmation))
		}
		return nil
	}
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(markdownWidth),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

func resumeHint(p *models.ConfirmationPayload) string {
	labels := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		labels = append(labels, o.Label)
	}
	return color.HiBlackString("Answer with: taskloom resume <%s>", strings.Join(labels, "|"))
}

func statusColor(s models.RunStatus) *color.Color {
	switch s {
	case models.RunCompleted:
		return color.New(color.FgGreen)
	case models.RunFailed, models.RunCancelled:
		return color.New(color.FgRed)
	case models.RunAwaitingConfirmation:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}
