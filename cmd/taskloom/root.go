package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/orchestrator"
)

// Output formats for run results.
const (
	formatText     = "text"
	formatMarkdown = "markdown"
	formatJSON     = "json"
)

var (
	flagUser    string
	flagConfig  string
	flagFormat  string
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:   "taskloom",
	Short: "Plan, run and confirm multi-step tool workflows",
	Long: `Taskloom turns a request into a graph of tool calls, runs independent
steps concurrently, and pauses to ask when a step is ambiguous.

A paused run waits in your session until you answer with 'taskloom resume'
or drop it with 'taskloom cancel'. Sessions keep the last operations you ran
so follow-up requests have context.

Tools are declared in a YAML catalog (.taskloom/tools.yaml by default).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagNoColor {
			color.NoColor = true
		}
		switch flagFormat {
		case formatText, formatMarkdown, formatJSON:
			return nil
		default:
			return fmt.Errorf("unknown format %q (want text, markdown or json)", flagFormat)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", defaultUser(), "User whose session to use")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: layered user and project config)")
	rootCmd.PersistentFlags().StringVarP(&flagFormat, "format", "f", formatText, "Result format: text, markdown or json")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultUser() string {
	if u := os.Getenv("TASKLOOM_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

// printError reports err with its apology line. Errors outside the engine's
// taxonomy are printed as-is.
func printError(err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	if orchestrator.ErrorCode(err) == orchestrator.CodeInternal {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", red("Error:"), orchestrator.UserMessage(err))
	fmt.Fprintf(os.Stderr, "  %v\n", err)
}
