// Package session keeps per-user context across runs: bounded operation
// history, at most one pending confirmation, and a TTL-based lifecycle.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	// ErrNotFound is returned by Get when no session exists for the user.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned by Get when the session outlived its TTL.
	// The session is evicted as a side effect.
	ErrExpired = errors.New("session expired")
	// ErrBusy is returned by Acquire when the wait for the session was abandoned.
	ErrBusy = errors.New("session busy")
)

// Store holds sessions keyed by user ID. Sessions returned by the store are
// copies; changes become visible only through Put.
type Store interface {
	// Get returns the user's session and refreshes its TTL clock.
	Get(userID string) (*models.Session, error)
	// GetOrCreate returns the user's live session, creating a new one if
	// none exists or the old one expired. Refreshes the TTL clock.
	GetOrCreate(userID string) (*models.Session, error)
	// Put stores the session, replacing any previous version.
	Put(s *models.Session) error
	// Delete removes the user's session.
	Delete(userID string) error
	// Sweep evicts every session idle longer than its TTL at now.
	Sweep(now time.Time) (int, error)
	// List returns all live sessions.
	List() ([]*models.Session, error)
	// Acquire serialises writers per user. Callers queue until the session
	// is free or ctx is done. The returned release is idempotent.
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// Persister stores sessions outside the process so pending confirmations
// survive restarts. Implemented by internal/state.
type Persister interface {
	SaveSession(s *models.Session) error
	// LoadSession returns nil, nil if the user has no stored session.
	LoadSession(userID string) (*models.Session, error)
	DeleteSession(userID string) error
	PurgeExpiredSessions(now time.Time) (int64, error)
	ListSessions() ([]*models.Session, error)
}
