package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventEmitter handles event emission for the engine.
// It provides a simple, thread-safe way to emit events to one subscriber.
type EventEmitter struct {
	events       chan ProgressEvent
	droppedCount atomic.Uint64
	closeOnce    sync.Once
	closed       atomic.Bool
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan ProgressEvent, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event ProgressEvent) {
	if e == nil || e.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	// Give the receiver 100ms to drain before dropping.
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[engine] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan ProgressEvent {
	return e.events
}

// Close closes the events channel. Emit after Close is a no-op.
// Close must not race with an in-flight Emit; call it once the engine is idle.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.events)
	})
}
