package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/session"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	sweepWatch bool
	clearAll   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and maintain stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evict expired sessions",
	Long: `Evict sessions idle for longer than session.ttl.

With --watch, keep sweeping every session.sweep_interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSessionsSweep,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete your session, or every session with --all",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClear,
}

func init() {
	sessionsSweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "Keep sweeping until interrupted")
	sessionsClearCmd.Flags().BoolVar(&clearAll, "all", false, "Delete the sessions of every user")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
}

// withStore opens the session store for the duration of fn.
func withStore(fn func(store *session.MemoryStore, interval time.Duration) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(store, cfg.Session.SweepInterval)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withStore(func(store *session.MemoryStore, _ time.Duration) error {
		sessions, err := store.List()
		if err != nil {
			return err
		}
		infos := session.Describe(sessions, time.Now())

		if flagFormat == formatJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}
		printSessions(os.Stdout, infos)
		return nil
	})
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	userCol     = lipgloss.NewStyle().Width(16)
	numCol      = lipgloss.NewStyle().Width(7)
	timeCol     = lipgloss.NewStyle().Width(12)
	pendingMark = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func printSessions(w io.Writer, infos []models.SessionInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No live sessions.")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(
		userCol.Render("USER")+numCol.Render("RUNS")+numCol.Render("OPS")+
			timeCol.Render("IDLE")+timeCol.Render("EXPIRES IN")+"PENDING"))
	for _, info := range infos {
		pending := "-"
		if info.HasPending {
			pending = pendingMark.Render(info.PendingTask)
		}
		fmt.Fprintln(w,
			userCol.Render(info.UserID)+
				numCol.Render(fmt.Sprint(info.RunCount))+
				numCol.Render(fmt.Sprint(info.HistoryLength))+
				timeCol.Render(info.Idle.Round(time.Second).String())+
				timeCol.Render(info.ExpiresIn.Round(time.Second).String())+
				pending)
	}
}

func runSessionsSweep(cmd *cobra.Command, args []string) error {
	return withStore(func(store *session.MemoryStore, interval time.Duration) error {
		sweeper := session.NewSweeper(store, interval)
		sweeper.OnSweep(func(evicted int) {
			if evicted > 0 || !sweepWatch {
				fmt.Printf("Evicted %d expired session(s).\n", evicted)
			}
		})

		if !sweepWatch {
			sweeper.SweepOnce()
			return nil
		}

		ctx, stop := interruptContext(cmd.Context())
		defer stop()
		log.Printf("[taskloom] sweeping every %s, Ctrl+C to stop", interval)
		sweeper.SweepOnce()
		sweeper.Start(ctx)
		<-ctx.Done()
		sweeper.Stop()
		return nil
	})
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	return withStore(func(store *session.MemoryStore, _ time.Duration) error {
		if clearAll {
			n, err := store.ClearAll()
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d session(s).\n", n)
			return nil
		}

		if err := store.Delete(flagUser); err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
		fmt.Printf("Cleared the session of %s.\n", flagUser)
		return nil
	})
}
