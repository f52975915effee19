package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// SaveSession writes s, its history and its pending confirmation, replacing
// whatever was stored for the user before.
func (db *DB) SaveSession(s *models.Session) error {
	if s == nil || s.UserID == "" {
		return fmt.Errorf("save session: missing user id")
	}

	var pending []byte
	if s.Pending != nil {
		var err error
		pending, err = json.Marshal(s.Pending)
		if err != nil {
			return fmt.Errorf("encode pending confirmation: %w", err)
		}
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sessions (user_id, id, created_at, last_access, ttl_ns, expires_at, run_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				id = excluded.id,
				created_at = excluded.created_at,
				last_access = excluded.last_access,
				ttl_ns = excluded.ttl_ns,
				expires_at = excluded.expires_at,
				run_count = excluded.run_count
		`, s.UserID, s.ID, formatTime(s.CreatedAt), formatTime(s.LastAccess), int64(s.TTL),
			formatTime(s.LastAccess.Add(s.TTL)), s.RunCount)
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM operation_history WHERE user_id = ?", s.UserID); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		for i, op := range s.History {
			if err := insertOperation(tx, s.UserID, i, op); err != nil {
				return err
			}
		}

		if pending == nil {
			if _, err := tx.Exec("DELETE FROM pending_confirmations WHERE user_id = ?", s.UserID); err != nil {
				return fmt.Errorf("clear pending confirmation: %w", err)
			}
			return nil
		}
		_, err = tx.Exec(`
			INSERT INTO pending_confirmations (user_id, run_id, task_id, task_description, context, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				run_id = excluded.run_id,
				task_id = excluded.task_id,
				task_description = excluded.task_description,
				context = excluded.context,
				created_at = excluded.created_at
		`, s.UserID, s.Pending.RunID, s.Pending.TaskID, s.Pending.TaskDescription, string(pending),
			formatTime(s.Pending.CreatedAt))
		if err != nil {
			return fmt.Errorf("save pending confirmation: %w", err)
		}
		return nil
	})
}

func insertOperation(tx *sql.Tx, userID string, seq int, op models.OperationHistoryEntry) error {
	params, err := encodeJSON(op.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters of %s: %w", op.OperationID, err)
	}
	before, err := encodeJSON(op.Before)
	if err != nil {
		return fmt.Errorf("encode before state of %s: %w", op.OperationID, err)
	}
	after, err := encodeJSON(op.After)
	if err != nil {
		return fmt.Errorf("encode after state of %s: %w", op.OperationID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO operation_history (operation_id, user_id, seq, run_id, task_id, tool, parameters, before_state, after_state, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.OperationID, userID, seq, op.RunID, op.TaskID, op.Tool, params, before, after, formatTime(op.Timestamp))
	if err != nil {
		return fmt.Errorf("insert operation %s: %w", op.OperationID, err)
	}
	return nil
}

// LoadSession returns the stored session for userID, or nil, nil if there is none.
func (db *DB) LoadSession(userID string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT user_id, id, created_at, last_access, ttl_ns, run_count
		FROM sessions WHERE user_id = ?
	`, userID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if s.History, err = db.History(userID); err != nil {
		return nil, err
	}
	if s.Pending, err = db.PendingConfirmation(userID); err != nil {
		return nil, err
	}
	return s, nil
}

// History returns the user's stored operations, oldest first.
func (db *DB) History(userID string) ([]models.OperationHistoryEntry, error) {
	rows, err := db.Query(`
		SELECT operation_id, run_id, task_id, tool, parameters, before_state, after_state, timestamp
		FROM operation_history WHERE user_id = ? ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.OperationHistoryEntry
	for rows.Next() {
		var op models.OperationHistoryEntry
		var runID, taskID, params, before, after sql.NullString
		var ts string
		if err := rows.Scan(&op.OperationID, &runID, &taskID, &op.Tool, &params, &before, &after, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		op.RunID, op.TaskID = runID.String, taskID.String
		if op.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("decode timestamp of %s: %w", op.OperationID, err)
		}

		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &op.Parameters); err != nil {
				return nil, fmt.Errorf("decode parameters of %s: %w", op.OperationID, err)
			}
		}
		if op.Before, err = decodeJSON(before); err != nil {
			return nil, fmt.Errorf("decode before state of %s: %w", op.OperationID, err)
		}
		if op.After, err = decodeJSON(after); err != nil {
			return nil, fmt.Errorf("decode after state of %s: %w", op.OperationID, err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// PendingConfirmation returns the user's stored confirmation context, or nil.
func (db *DB) PendingConfirmation(userID string) (*models.ConfirmationContext, error) {
	var raw string
	err := db.QueryRow("SELECT context FROM pending_confirmations WHERE user_id = ?", userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending confirmation: %w", err)
	}

	var c models.ConfirmationContext
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode pending confirmation: %w", err)
	}
	return &c, nil
}

// DeleteSession removes the user's session with its history and pending confirmation.
func (db *DB) DeleteSession(userID string) error {
	if _, err := db.Exec("DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions idle past their TTL at now.
// Returns the number of sessions deleted.
func (db *DB) PurgeExpiredSessions(now time.Time) (int64, error) {
	result, err := db.Exec("DELETE FROM sessions WHERE expires_at < ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// ListSessions returns every stored session with history and pending
// confirmation, ordered by user ID.
func (db *DB) ListSessions() ([]*models.Session, error) {
	rows, err := db.Query(`
		SELECT user_id, id, created_at, last_access, ttl_ns, run_count
		FROM sessions ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Children are read after rows is closed; the pool has one connection.
	for _, s := range sessions {
		if s.History, err = db.History(s.UserID); err != nil {
			return nil, err
		}
		if s.Pending, err = db.PendingConfirmation(s.UserID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var createdAt, lastAccess string
	var ttl int64
	if err := row.Scan(&s.UserID, &s.ID, &createdAt, &lastAccess, &ttl, &s.RunCount); err != nil {
		return nil, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at of session for %s: %w", s.UserID, err)
	}
	if s.LastAccess, err = parseTime(lastAccess); err != nil {
		return nil, fmt.Errorf("decode last_access of session for %s: %w", s.UserID, err)
	}
	s.TTL = time.Duration(ttl)
	return &s, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString) (any, error) {
	if !s.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}
