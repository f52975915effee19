package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/exec"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/tools"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools in the catalog",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every catalog entry has exactly one backend",
	Args:  cobra.NoArgs,
	RunE:  runToolsCheck,
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <tool> [key=value...]",
	Short: "Invoke one tool directly",
	Long: `Invoke one tool outside of any run and print its outcome.

Values that parse as JSON are passed as such; anything else is a string.`,
	Example: `  taskloom tools call search query=milk
  taskloom tools call delete ids='["m1","m2"]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runToolsCall,
}

func init() {
	toolsCmd.AddCommand(toolsCheckCmd)
	toolsCmd.AddCommand(toolsCallCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	specs := registry.Specs()
	if flagFormat == formatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(specs)
	}
	printSpecs(os.Stdout, specs)
	return nil
}

func printSpecs(w io.Writer, specs []planner.ToolSpec) {
	if len(specs) == 0 {
		fmt.Fprintln(w, "The catalog declares no tools.")
		return
	}
	for _, s := range specs {
		name := color.CyanString(s.Name)
		if s.Mutating {
			name += color.YellowString(" (mutating)")
		}
		fmt.Fprintf(w, "%s\n  %s\n", name, s.Description)
	}
}

func runToolsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := tools.LoadCatalog(cfg.Tools.Catalog)
	if err != nil {
		return err
	}

	problems := 0
	for _, def := range catalog.Tools {
		backend, err := def.Backend()
		if err != nil {
			problems++
			fmt.Printf("%s %s: %v\n", color.RedString("✗"), def.Name, err)
			continue
		}
		fmt.Printf("%s %s %s\n", color.GreenString("✓"), def.Name, color.HiBlackString("(%s)", backend))
	}

	registry, err := tools.Build(catalog, exec.NewRunner())
	if err != nil {
		return err
	}
	if err := registry.Validate(catalog.Specs()); err != nil {
		return err
	}
	if problems > 0 {
		return fmt.Errorf("%d catalog entries need fixing", problems)
	}
	fmt.Printf("%d tools ready.\n", len(catalog.Tools))
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()
	if cfg.Executor.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Executor.ToolTimeout)
		defer cancel()
	}

	outcome := registry.Invoke(ctx, args[0], params)
	if err := printOutcome(os.Stdout, outcome); err != nil {
		return err
	}
	if outcome.Kind == models.OutcomeFailure {
		return outcome.Err
	}
	return nil
}

// parseParams turns key=value arguments into tool parameters.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q: want key=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

func printOutcome(w io.Writer, o models.Outcome) error {
	switch o.Kind {
	case models.OutcomeSuccess:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o.Result)
	case models.OutcomeAmbiguity:
		if o.Ambiguity == nil {
			o.Ambiguity = &models.Ambiguity{}
		}
		fmt.Fprintf(w, "%s %s\n", color.YellowString("needs confirmation:"), o.Ambiguity.Reason)
		for i, opt := range o.Ambiguity.Options {
			fmt.Fprintf(w, "  %d. %s %s\n", i+1, opt.Label, opt.Description)
		}
		return nil
	default:
		fmt.Fprintf(w, "%s %v\n", color.RedString("failed:"), o.Err)
		return nil
	}
}
