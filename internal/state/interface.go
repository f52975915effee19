package state

import (
	"io"

	"github.com/ShayCichocki/taskloom/internal/session"
)

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// It lets the session layer work with any backend that can store sessions
// without depending on the concrete SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	session.Persister
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore        = (*DB)(nil)
	_ Migrator          = (*DB)(nil)
	_ session.Persister = (*DB)(nil)
)
