package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/signals"
	"github.com/ShayCichocki/taskloom/internal/tui"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	runPlanFile    string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Plan a request and run it",
	Long: `Plan a natural-language request with the configured planner and run
the resulting tasks.

Tasks whose dependencies are done run together. When a tool cannot tell
which item you meant, the run pauses and prints the choices; answer with
'taskloom resume <label>' or pass --interactive to pick right away.

With --plan, the planner is skipped and the tasks in the given YAML or JSON
file are run as written.

A run in progress stops between groups on Ctrl+C or when another shell runs
'taskloom cancel --signal'.`,
	Example: `  taskloom run "remove milk from my shopping list and tell me what is left"
  taskloom run --plan plan.yaml
  taskloom run -i "archive last week's notes"`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "Run the tasks in this plan file instead of planning")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Pick an answer in the terminal when the run pauses")
}

func runRun(cmd *cobra.Command, args []string) error {
	request := strings.TrimSpace(strings.Join(args, " "))
	if runPlanFile == "" && request == "" {
		return errors.New("a request or --plan is required")
	}

	var tasks []*models.Task
	if runPlanFile != "" {
		var err error
		if tasks, err = planner.LoadPlanFile(runPlanFile); err != nil {
			return err
		}
	}

	a, err := newApp(appOptions{planner: runPlanFile == "", printEvents: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	var result *models.RunResult
	if tasks != nil {
		result, err = a.engine.Execute(ctx, flagUser, tasks)
	} else {
		result, err = a.engine.Run(ctx, flagUser, request)
	}
	if err != nil {
		return err
	}
	return a.finish(ctx, result, runInteractive)
}

// interruptContext returns a context cancelled by SIGINT, SIGTERM or a
// cancel signal file in the working directory.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)

	cwd, err := os.Getwd()
	if err != nil {
		return ctx, stopSignals
	}
	w, err := signals.New(cwd)
	if err != nil {
		log.Printf("[taskloom] WARNING: cancel signals disabled: %v", err)
		return ctx, stopSignals
	}
	// A signal left over from an earlier run must not stop this one.
	w.Clear()

	ctx, cancel := w.WithCancelSignal(ctx)
	return ctx, func() {
		cancel()
		w.Close()
		stopSignals()
	}
}

// finish renders result. In interactive mode each pause is answered in the
// terminal and the run resumed until it ends or the picker is closed.
func (a *app) finish(ctx context.Context, result *models.RunResult, interactive bool) error {
	for interactive && flagFormat != formatJSON &&
		result.Status == models.RunAwaitingConfirmation && result.Confirmation != nil {
		label, err := tui.Pick(result.Confirmation)
		if errors.Is(err, tui.ErrAborted) {
			break
		}
		if err != nil {
			return fmt.Errorf("confirmation picker: %w", err)
		}
		next, err := a.engine.Resume(ctx, flagUser, models.Resolution{Label: label})
		if err != nil {
			return err
		}
		result = next
	}
	return renderResult(os.Stdout, result, flagFormat)
}
