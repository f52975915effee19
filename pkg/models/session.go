package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultHistorySize bounds the per-session operation history.
	DefaultHistorySize = 10
	// DefaultSessionTTL is the idle time after which a session is evicted.
	DefaultSessionTTL = 30 * time.Minute
	// DefaultRecentOperations is how many entries RecentOperations returns for n <= 0.
	DefaultRecentOperations = 5
)

// OperationHistoryEntry records one applied mutating operation.
type OperationHistoryEntry struct {
	// OperationID uniquely identifies the entry.
	OperationID string `json:"operation_id"`
	// RunID is the run that applied the operation.
	RunID string `json:"run_id,omitempty"`
	// TaskID is the task that applied the operation.
	TaskID string `json:"task_id,omitempty"`
	// Tool is the capability that was invoked.
	Tool string `json:"tool"`
	// Parameters are the resolved parameters of the invocation.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Before is the state snapshot prior to the operation, if known.
	Before any `json:"before,omitempty"`
	// After is the state snapshot after the operation.
	After any `json:"after,omitempty"`
	// Timestamp is when the operation completed.
	Timestamp time.Time `json:"timestamp"`
}

// Session is the per-user context that outlives individual runs.
type Session struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// UserID owns the session. At most one session exists per user.
	UserID string `json:"user_id"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// LastAccess is refreshed on every access.
	LastAccess time.Time `json:"last_access"`
	// TTL is the allowed idle time.
	TTL time.Duration `json:"ttl"`
	// History is the bounded FIFO of applied operations, oldest first.
	History []OperationHistoryEntry `json:"history"`
	// Pending is the suspended run awaiting confirmation, if any.
	Pending *ConfirmationContext `json:"pending,omitempty"`
	// RunCount counts runs started in this session.
	RunCount int `json:"run_count"`
}

// NewSession creates a session for userID.
func NewSession(id, userID string, ttl time.Duration, now time.Time) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastAccess: now,
		TTL:        ttl,
	}
}

// Touch refreshes the TTL clock.
func (s *Session) Touch(now time.Time) {
	s.LastAccess = now
}

// Expired reports whether the session has been idle longer than its TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastAccess) > s.TTL
}

// AddOperation appends an entry, evicting the oldest beyond capacity.
func (s *Session) AddOperation(entry OperationHistoryEntry, capacity int) {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	s.History = append(s.History, entry)
	if over := len(s.History) - capacity; over > 0 {
		// Shift in place so the backing array does not grow without bound.
		n := copy(s.History, s.History[over:])
		for i := n; i < len(s.History); i++ {
			s.History[i] = OperationHistoryEntry{}
		}
		s.History = s.History[:n]
	}
}

// RecentOperations returns up to n of the newest entries, newest last.
func (s *Session) RecentOperations(n int) []OperationHistoryEntry {
	if n <= 0 {
		n = DefaultRecentOperations
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	out := make([]OperationHistoryEntry, n)
	copy(out, s.History[len(s.History)-n:])
	return out
}

// Summary renders recent history as planner context.
func (s *Session) Summary() string {
	recent := s.RecentOperations(DefaultRecentOperations)
	if len(recent) == 0 && s.Pending == nil {
		return ""
	}
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Recent operations:\n")
		for _, op := range recent {
			fmt.Fprintf(&b, "- %s %s %v\n", op.Timestamp.Format(time.RFC3339), op.Tool, op.Parameters)
		}
	}
	if s.Pending != nil {
		fmt.Fprintf(&b, "Awaiting confirmation for: %s\n", s.Pending.TaskDescription)
	}
	return b.String()
}

// Clone returns a copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]OperationHistoryEntry(nil), s.History...)
	c.Pending = s.Pending.Clone()
	return &c
}

// SessionInfo is a listing row for a session.
type SessionInfo struct {
	UserID        string        `json:"user_id"`
	SessionID     string        `json:"session_id"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAccess    time.Time     `json:"last_access"`
	Age           time.Duration `json:"age"`
	Idle          time.Duration `json:"idle"`
	ExpiresIn     time.Duration `json:"expires_in"`
	HistoryLength int           `json:"history_length"`
	HasPending    bool          `json:"has_pending"`
	PendingTask   string        `json:"pending_task,omitempty"`
	RunCount      int           `json:"run_count"`
}

// Info summarises the session at now.
func (s *Session) Info(now time.Time) SessionInfo {
	info := SessionInfo{
		UserID:        s.UserID,
		SessionID:     s.ID,
		CreatedAt:     s.CreatedAt,
		LastAccess:    s.LastAccess,
		Age:           now.Sub(s.CreatedAt),
		Idle:          now.Sub(s.LastAccess),
		ExpiresIn:     s.LastAccess.Add(s.TTL).Sub(now),
		HistoryLength: len(s.History),
		HasPending:    s.Pending != nil,
		RunCount:      s.RunCount,
	}
	if info.ExpiresIn < 0 {
		info.ExpiresIn = 0
	}
	if s.Pending != nil {
		info.PendingTask = s.Pending.TaskDescription
	}
	return info
}
