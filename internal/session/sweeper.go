package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired sessions are evicted.
const DefaultSweepInterval = time.Minute

// Sweeper evicts expired sessions on a fixed interval, independent of
// request handling.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
	// onSweep, if set, observes each completed sweep.
	onSweep func(evicted int)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper creates a sweeper for store. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// OnSweep registers a callback invoked after every sweep.
func (s *Sweeper) OnSweep(fn func(evicted int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSweep = fn
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// SweepOnce runs a single sweep synchronously.
func (s *Sweeper) SweepOnce() int {
	evicted, err := s.store.Sweep(s.now())
	if err != nil {
		log.Printf("[session] sweep failed: %v", err)
	}

	s.mu.Lock()
	fn := s.onSweep
	s.mu.Unlock()
	if fn != nil {
		fn(evicted)
	}
	return evicted
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
