package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// BuildSummary renders the plain-text completion report of a run.
func BuildSummary(r *models.RunResult) string {
	var b strings.Builder

	switch r.Status {
	case models.RunCompleted:
		fmt.Fprintf(&b, "Run completed: %d of %d tasks done.\n", r.Progress.Completed, r.Progress.Total)
	case models.RunFailed:
		fmt.Fprintf(&b, "Run finished with problems: %d done, %d failed, %d skipped.\n",
			r.Progress.Completed, r.Progress.Failed, r.Progress.Skipped)
	case models.RunAwaitingConfirmation:
		fmt.Fprintf(&b, "Run paused for confirmation: %d of %d tasks done.\n", r.Progress.Completed, r.Progress.Total)
	case models.RunCancelled:
		fmt.Fprintf(&b, "Run cancelled: %d of %d tasks done.\n", r.Progress.Completed, r.Progress.Total)
		if r.CancelReason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", r.CancelReason)
		}
		if r.RollbackRequired {
			b.WriteString("Changes already applied were kept; nothing was undone.\n")
		}
	default:
		fmt.Fprintf(&b, "Run %s.\n", r.Status)
	}

	for _, t := range r.Tasks {
		fmt.Fprintf(&b, "  [%s] %s", statusMark(t.Status), t.Description)
		if t.Description == "" {
			b.WriteString(t.ID)
		}
		switch {
		case t.Error != "":
			fmt.Fprintf(&b, ": %s", t.Error)
		case t.UsedFallback:
			fmt.Fprintf(&b, " (via %s)", t.FallbackTool)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildMarkdownReport renders the report as markdown for terminal rendering.
func BuildMarkdownReport(r *models.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Run `%s`: %s\n\n", shortID(r.RunID), r.Status)
	fmt.Fprintf(&b, "**Progress:** %d/%d (%.0f%%)\n\n", r.Progress.Completed, r.Progress.Total, r.Progress.Percentage)

	if len(r.Tasks) > 0 {
		b.WriteString("| Task | Tool | Status | Note |\n|---|---|---|---|\n")
		for _, t := range r.Tasks {
			note := t.Error
			if note == "" && t.UsedFallback {
				note = "fallback " + t.FallbackTool
			}
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n", escapeCell(t.Description), t.Tool, t.Status, escapeCell(note))
		}
		b.WriteString("\n")
	}

	if r.Confirmation != nil {
		b.WriteString("### Confirmation needed\n\n")
		fmt.Fprintf(&b, "%s\n\n", r.Confirmation.AmbiguousTaskDescription)
		for i, opt := range r.Confirmation.Options {
			fmt.Fprintf(&b, "%d. **%s** %s\n", i+1, opt.Label, opt.Description)
		}
		if len(r.Confirmation.RemainingTaskDescriptions) > 0 {
			b.WriteString("\nStill to do:\n\n")
			for i, d := range r.Confirmation.RemainingTaskDescriptions {
				fmt.Fprintf(&b, "%d. %s\n", i+1, d)
			}
		}
	}
	if r.CancelReason != "" {
		fmt.Fprintf(&b, "\n> %s\n", r.CancelReason)
	}
	return b.String()
}

func statusMark(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return "done"
	case models.TaskStatusFailed:
		return "failed"
	case models.TaskStatusSkipped:
		return "skipped"
	case models.TaskStatusAwaitingConfirmation:
		return "waiting"
	default:
		return "pending"
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
