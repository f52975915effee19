package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/graph"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var planSave string

var planCmd = &cobra.Command{
	Use:   "plan <request...>",
	Short: "Plan a request without running it",
	Long: `Ask the planner for tasks, check them against the tool catalog, and
print the groups they would run in. Nothing is executed.

--save writes the plan to a file that 'taskloom run --plan' accepts, so a
plan can be reviewed or edited before it runs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planSave, "save", "", "Write the plan to this YAML file")
}

// planReport is the json form of the plan command.
type planReport struct {
	Tasks  []*models.Task         `json:"tasks"`
	Groups []graph.ExecutionGroup `json:"groups"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	p, err := newPlanner(cfg)
	if err != nil {
		return err
	}

	var summary string
	db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	sess, err := db.LoadSession(flagUser)
	db.Close()
	if err != nil {
		return err
	}
	if sess != nil {
		summary = sess.Summary()
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	specs := registry.Specs()
	tasks, err := p.Decompose(ctx, strings.Join(args, " "), specs, summary)
	if err != nil {
		return fmt.Errorf("planner failed: %w", err)
	}
	if len(tasks) == 0 {
		return errors.New("the planner found nothing to do for this request")
	}
	if err := planner.ValidatePlan(tasks, planner.ToolNames(specs)); err != nil {
		return err
	}
	groups, err := graph.Resolve(tasks)
	if err != nil {
		return err
	}

	if planSave != "" {
		data, err := planner.EncodePlanYAML(tasks)
		if err != nil {
			return err
		}
		if err := os.WriteFile(planSave, data, 0644); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
	}

	if flagFormat == formatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(planReport{Tasks: tasks, Groups: groups})
	}
	printPlan(os.Stdout, tasks, groups)
	if planSave != "" {
		fmt.Printf("\nSaved to %s; run it with: taskloom run --plan %s\n", planSave, planSave)
	}
	return nil
}

func printPlan(w io.Writer, tasks []*models.Task, groups []graph.ExecutionGroup) {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for i, group := range groups {
		fmt.Fprintf(w, "%s\n", color.CyanString("Group %d", i+1))
		for _, id := range group {
			t := byID[id]
			fmt.Fprintf(w, "  %s %s %s\n", id, t.Description, color.HiBlackString("[%s]", t.Tool))
			if len(t.DependsOn) > 0 {
				fmt.Fprintf(w, "    after: %s\n", strings.Join(t.DependsOn, ", "))
			}
			if t.FallbackTool != "" {
				fmt.Fprintf(w, "    fallback: %s\n", t.FallbackTool)
			}
		}
	}
}
