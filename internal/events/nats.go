package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ShayCichocki/taskloom/internal/orchestrator"
)

// DefaultSubject is the subject prefix progress events are published under.
const DefaultSubject = "taskloom.events"

// NATSSink publishes each event to <subject>.<event type>.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url.
func NewNATSSink(url, subject string, opts ...nats.Option) (*NATSSink, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	opts = append([]nats.Option{
		nats.Name("taskloom"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[events] nats disconnected: %v", err)
			}
		}),
	}, opts...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Subject returns the subject ev is published on.
func (s *NATSSink) Subject(ev orchestrator.ProgressEvent) string {
	return s.subject + "." + string(ev.Type)
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, ev orchestrator.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := nats.NewMsg(s.Subject(ev))
	msg.Data = data
	msg.Header.Set("Taskloom-Run", ev.RunID)
	msg.Header.Set("Taskloom-User", ev.UserID)
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

var _ Sink = (*NATSSink)(nil)
