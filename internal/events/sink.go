// Package events delivers engine progress events to external sinks.
package events

import (
	"context"
	"errors"
	"log"

	"github.com/ShayCichocki/taskloom/internal/orchestrator"
)

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, ev orchestrator.ProgressEvent) error
	Close() error
}

// SinkFunc adapts a function to a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, ev orchestrator.ProgressEvent) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, ev orchestrator.ProgressEvent) error {
	return f(ctx, ev)
}

// Close implements Sink.
func (f SinkFunc) Close() error { return nil }

// Forward copies events to every sink until the channel is closed or ctx is
// done. Publish errors are logged and do not stop delivery to other sinks.
// It returns the number of events read.
func Forward(ctx context.Context, events <-chan orchestrator.ProgressEvent, sinks ...Sink) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case ev, ok := <-events:
			if !ok {
				return n
			}
			n++
			for _, s := range sinks {
				if err := s.Publish(ctx, ev); err != nil {
					log.Printf("[events] WARNING: publish %s for run %s failed: %v", ev.Type, ev.RunID, err)
				}
			}
		}
	}
}

// CloseAll closes every sink and joins their errors.
func CloseAll(sinks ...Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
