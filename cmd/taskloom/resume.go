package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/signals"
	"github.com/ShayCichocki/taskloom/internal/tui"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	resumeTaskJSON    string
	resumeInteractive bool
	cancelSignal      bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume [label|number]",
	Short: "Answer a paused run and continue it",
	Long: `Answer the confirmation your paused run is waiting on.

The answer is an option label or its number from the prompt. 'cancel'
(or its number) drops the rest of the run. With no answer, a picker opens
in the terminal.

--task replaces the ambiguous step with a task given as JSON, for answers
none of the options cover.`,
	Example: `  taskloom resume oldest
  taskloom resume 2
  taskloom resume --task '{"tool":"delete_by_id","parameters":{"id":42}}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [reason...]",
	Short: "Drop a paused run",
	Long: `Drop the run waiting on your confirmation. Finished steps are kept.

With --signal, ask a run in progress in this directory to stop after its
current group instead.`,
	RunE: runCancel,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeTaskJSON, "task", "", "Replacement task as JSON")
	resumeCmd.Flags().BoolVarP(&resumeInteractive, "interactive", "i", false, "Keep answering in the terminal if the run pauses again")
	cancelCmd.Flags().BoolVar(&cancelSignal, "signal", false, "Stop a run in progress in this directory")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{printEvents: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var res models.Resolution
	switch {
	case resumeTaskJSON != "":
		if len(args) > 0 {
			return errors.New("give either an answer or --task, not both")
		}
		task, err := parseReplacementTask(resumeTaskJSON)
		if err != nil {
			return err
		}
		res.Task = task
	case len(args) == 1:
		res.Label = args[0]
	default:
		payload, err := a.engine.Pending(flagUser)
		if err != nil {
			return err
		}
		label, err := tui.Pick(payload)
		if errors.Is(err, tui.ErrAborted) {
			fmt.Println("No answer given; the run is still waiting.")
			return nil
		}
		if err != nil {
			return err
		}
		res.Label = label
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	result, err := a.engine.Resume(ctx, flagUser, res)
	if err != nil {
		return err
	}
	return a.finish(ctx, result, resumeInteractive)
}

func parseReplacementTask(raw string) (*models.Task, error) {
	var task models.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("parse --task: %w", err)
	}
	if task.Tool == "" {
		return nil, errors.New("parse --task: tool is required")
	}
	return &task, nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	reason := strings.TrimSpace(strings.Join(args, " "))

	if cancelSignal {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := signals.SendCancel(cwd, reason); err != nil {
			return err
		}
		fmt.Println("Cancel signal sent; the run stops after its current group.")
		return nil
	}

	a, err := newApp(appOptions{printEvents: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.Cancel(cmd.Context(), flagUser, reason)
	if err != nil {
		return err
	}
	return renderResult(os.Stdout, result, flagFormat)
}
