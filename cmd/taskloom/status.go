package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/orchestrator"
	"github.com/ShayCichocki/taskloom/internal/state"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	statusAll            bool
	statusDiscardExpired bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show your session and any paused run",
	Long: `Show the session of the current user: its age, recent operations, and
the confirmation a paused run is waiting on.

--all lists paused runs of every user in the state database.
--discard-expired drops confirmations older than confirmation.timeout.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "List paused runs of every user")
	statusCmd.Flags().BoolVar(&statusDiscardExpired, "discard-expired", false, "Drop expired confirmations")
}

// statusReport is the json form of the status command.
type statusReport struct {
	Session   *models.SessionInfo            `json:"session,omitempty"`
	History   []models.OperationHistoryEntry `json:"history,omitempty"`
	Pending   *models.ConfirmationPayload    `json:"pending,omitempty"`
	Expired   bool                           `json:"expired,omitempty"`
	Suspended []state.SuspendedRun           `json:"suspended,omitempty"`
	Discarded int64                          `json:"discarded,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var report statusReport
	recovery := state.NewRecoveryManager(db, cfg.Confirmation.Timeout)
	if statusDiscardExpired {
		if report.Discarded, err = recovery.DiscardExpired(); err != nil {
			return err
		}
	}

	// Read straight from the database so looking does not extend the session.
	sess, err := db.LoadSession(flagUser)
	if err != nil {
		return err
	}
	if sess != nil {
		info := sess.Info(time.Now())
		report.Session = &info
		report.History = sess.History
		if sess.Pending != nil {
			gate := orchestrator.NewConfirmationGate(cfg.Confirmation.Timeout, nil)
			report.Pending = gate.Payload(sess.Pending)
			report.Expired = gate.Expired(sess.Pending)
		}
	}

	if statusAll {
		if report.Suspended, err = recovery.CheckForSuspended(); err != nil {
			return err
		}
	}

	if flagFormat == formatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(os.Stdout, report)
	return nil
}

func printStatus(w io.Writer, r statusReport) {
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	if r.Discarded > 0 {
		fmt.Fprintf(w, "Discarded %d expired confirmation(s).\n\n", r.Discarded)
	}

	if r.Session == nil {
		fmt.Fprintf(w, "No session for %s.\n", flagUser)
	} else {
		s := r.Session
		fmt.Fprintf(w, "%s %s\n", bold("Session"), s.SessionID)
		fmt.Fprintf(w, "  User:       %s\n", s.UserID)
		fmt.Fprintf(w, "  Runs:       %d\n", s.RunCount)
		fmt.Fprintf(w, "  Age:        %s\n", s.Age.Round(time.Second))
		fmt.Fprintf(w, "  Expires in: %s\n", s.ExpiresIn.Round(time.Second))

		if len(r.History) > 0 {
			fmt.Fprintf(w, "\n%s\n", bold("Recent operations"))
			for _, op := range r.History {
				fmt.Fprintf(w, "  %s %s %s\n", dim(op.Timestamp.Local().Format("15:04:05")), op.Tool, dim(op.TaskID))
			}
		}

		if r.Pending != nil {
			fmt.Fprintf(w, "\n%s\n", color.YellowString("Waiting for confirmation"))
			if r.Expired {
				fmt.Fprintln(w, color.RedString("  This confirmation has expired; the next command drops it."))
			}
			fmt.Fprintln(w, r.Pending.Prompt)
			fmt.Fprintln(w, resumeHint(r.Pending))
		}
	}

	if statusAll {
		fmt.Fprintf(w, "\n%s\n", bold("Paused runs"))
		if len(r.Suspended) == 0 {
			fmt.Fprintln(w, "  none")
		}
		for _, run := range r.Suspended {
			note := ""
			if run.Expired {
				note = color.RedString(" (expired)")
			}
			fmt.Fprintf(w, "  %s: %s %s%s\n", run.UserID, run.TaskDescription,
				dim(run.CreatedAt.Local().Format(time.DateTime)), note)
		}
	}
}
