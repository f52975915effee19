package state

import (
	"fmt"
	"time"
)

// SuspendedRun describes a run left waiting for confirmation by an earlier process.
type SuspendedRun struct {
	UserID          string
	SessionID       string
	RunID           string
	TaskID          string
	TaskDescription string
	CreatedAt       time.Time
	// Expired is set once the confirmation waited longer than the timeout.
	Expired bool
}

// RecoveryManager finds and discards suspended runs on startup.
type RecoveryManager struct {
	db      *DB
	timeout time.Duration
	now     func() time.Time
}

// NewRecoveryManager creates a RecoveryManager. A zero timeout never expires
// confirmations.
func NewRecoveryManager(db *DB, confirmationTimeout time.Duration) *RecoveryManager {
	return &RecoveryManager{db: db, timeout: confirmationTimeout, now: time.Now}
}

// CheckForSuspended lists every stored run awaiting confirmation, oldest first.
func (rm *RecoveryManager) CheckForSuspended() ([]SuspendedRun, error) {
	rows, err := rm.db.Query(`
		SELECT p.user_id, s.id, p.run_id, p.task_id, p.task_description, p.created_at
		FROM pending_confirmations p JOIN sessions s ON s.user_id = p.user_id
		ORDER BY p.created_at, p.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list suspended runs: %w", err)
	}
	defer rows.Close()

	now := rm.now()
	var out []SuspendedRun
	for rows.Next() {
		var r SuspendedRun
		var created string
		if err := rows.Scan(&r.UserID, &r.SessionID, &r.RunID, &r.TaskID, &r.TaskDescription, &created); err != nil {
			return nil, fmt.Errorf("scan suspended run: %w", err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("decode created_at of confirmation for %s: %w", r.UserID, err)
		}
		r.Expired = rm.timeout > 0 && now.Sub(r.CreatedAt) > rm.timeout
		out = append(out, r)
	}
	return out, rows.Err()
}

// Discard drops the user's pending confirmation, keeping the session and history.
func (rm *RecoveryManager) Discard(userID string) error {
	if _, err := rm.db.Exec("DELETE FROM pending_confirmations WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("discard pending confirmation: %w", err)
	}
	return nil
}

// DiscardExpired drops every confirmation older than the timeout and
// returns how many were removed.
func (rm *RecoveryManager) DiscardExpired() (int64, error) {
	if rm.timeout <= 0 {
		return 0, nil
	}
	cutoff := formatTime(rm.now().Add(-rm.timeout))
	result, err := rm.db.Exec("DELETE FROM pending_confirmations WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("discard expired confirmations: %w", err)
	}
	return result.RowsAffected()
}
