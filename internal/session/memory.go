package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// entry guards one session independently of the store map.
type entry struct {
	mu      sync.Mutex
	session *models.Session
}

// MemoryStore is an in-process Store with optional write-through persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	ttl       time.Duration
	now       func() time.Time
	newID     func() string
	persister Persister
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithTTL sets the idle TTL for new sessions.
func WithTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithClock overrides time.Now (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDGenerator overrides session ID generation (mainly for testing).
func WithIDGenerator(fn func() string) Option {
	return func(s *MemoryStore) { s.newID = fn }
}

// WithPersister enables load-on-miss and write-through to p.
func WithPersister(p Persister) Option {
	return func(s *MemoryStore) { s.persister = p }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		locks:   make(map[string]chan struct{}),
		ttl:     models.DefaultSessionTTL,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the user's session and refreshes its TTL clock.
func (s *MemoryStore) Get(userID string) (*models.Session, error) {
	e, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	if e.session.Expired(now) {
		s.evict(userID, e)
		return nil, fmt.Errorf("user %s: %w", userID, ErrExpired)
	}
	e.session.Touch(now)
	if err := s.persist(e.session); err != nil {
		return nil, err
	}
	return e.session.Clone(), nil
}

// GetOrCreate returns the user's live session or a fresh one.
func (s *MemoryStore) GetOrCreate(userID string) (*models.Session, error) {
	sess, err := s.Get(userID)
	if err == nil {
		return sess, nil
	}
	if !isMissing(err) {
		return nil, err
	}

	fresh := models.NewSession(s.newID(), userID, s.ttl, s.now())

	s.mu.Lock()
	if existing, ok := s.entries[userID]; ok {
		// Lost a race with another creator; use theirs.
		s.mu.Unlock()
		existing.mu.Lock()
		defer existing.mu.Unlock()
		existing.session.Touch(s.now())
		return existing.session.Clone(), nil
	}
	s.entries[userID] = &entry{session: fresh}
	s.mu.Unlock()

	if err := s.persist(fresh); err != nil {
		return nil, err
	}
	return fresh.Clone(), nil
}

// Put stores a copy of sess. Writing a session counts as an access, so the
// TTL clock restarts from now rather than from when sess was read.
func (s *MemoryStore) Put(sess *models.Session) error {
	if sess == nil || sess.UserID == "" {
		return fmt.Errorf("put session: missing user id")
	}
	stored := sess.Clone()
	stored.Touch(s.now())

	s.mu.Lock()
	e, ok := s.entries[sess.UserID]
	if !ok {
		s.entries[sess.UserID] = &entry{session: stored}
		s.mu.Unlock()
		return s.persist(stored)
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = stored
	return s.persist(stored)
}

// Delete removes the user's session from memory and the persister.
func (s *MemoryStore) Delete(userID string) error {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.DeleteSession(userID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return nil
}

// Sweep evicts expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) (int, error) {
	s.mu.RLock()
	candidates := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.RUnlock()

	evicted := 0
	for userID, e := range candidates {
		e.mu.Lock()
		if e.session != nil && e.session.Expired(now) {
			s.evict(userID, e)
			evicted++
		}
		e.mu.Unlock()
	}

	if s.persister != nil {
		purged, err := s.persister.PurgeExpiredSessions(now)
		if err != nil {
			return evicted, fmt.Errorf("purge persisted sessions: %w", err)
		}
		evicted += int(purged)
	}
	return evicted, nil
}

// List returns copies of all live sessions sorted by user ID.
// With a persister, stored sessions not yet loaded are included.
func (s *MemoryStore) List() ([]*models.Session, error) {
	now := s.now()
	byUser := make(map[string]*models.Session)

	if s.persister != nil {
		stored, err := s.persister.ListSessions()
		if err != nil {
			return nil, fmt.Errorf("list persisted sessions: %w", err)
		}
		for _, sess := range stored {
			if !sess.Expired(now) {
				byUser[sess.UserID] = sess
			}
		}
	}

	// Entry locks are never taken while holding s.mu.
	s.mu.RLock()
	live := make(map[string]*entry, len(s.entries))
	for userID, e := range s.entries {
		live[userID] = e
	}
	s.mu.RUnlock()

	for userID, e := range live {
		e.mu.Lock()
		if e.session != nil && !e.session.Expired(now) {
			byUser[userID] = e.session.Clone()
		}
		e.mu.Unlock()
	}

	out := make([]*models.Session, 0, len(byUser))
	for _, sess := range byUser {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Acquire serialises writers per user with a one-slot semaphore.
func (s *MemoryStore) Acquire(ctx context.Context, userID string) (func(), error) {
	s.locksMu.Lock()
	slot, ok := s.locks[userID]
	if !ok {
		slot = make(chan struct{}, 1)
		s.locks[userID] = slot
	}
	s.locksMu.Unlock()

	select {
	case slot <- struct{}{}:
		return releaser(slot), nil
	default:
	}

	select {
	case slot <- struct{}{}:
		return releaser(slot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: user %s: %w", ErrBusy, userID, ctx.Err())
	}
}

func releaser(slot chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { <-slot }) }
}

// lookup finds the entry for userID, loading it from the persister on a miss.
func (s *MemoryStore) lookup(userID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	if s.persister == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	stored, err := s.persister.LoadSession(userID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e, nil
	}
	e = &entry{session: stored}
	s.entries[userID] = e
	return e, nil
}

// evict removes an expired entry. Caller holds e.mu.
func (s *MemoryStore) evict(userID string, e *entry) {
	s.mu.Lock()
	if s.entries[userID] == e {
		delete(s.entries, userID)
	}
	s.mu.Unlock()
	if s.persister != nil {
		if err := s.persister.DeleteSession(userID); err != nil {
			log.Printf("[session] failed to delete expired session for %s: %v", userID, err)
		}
	}
}

func (s *MemoryStore) persist(sess *models.Session) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func isMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}

// Compile-time verification that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
