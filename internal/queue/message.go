// Package queue delivers sync messages at least once: every message is
// persisted in sync_queue, pushed to Redis (or an in-memory channel) for fast
// pickup, and recovered by polling when neither holds it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TopicSyncRequested        = "channelsync.sync_integration"
	TopicReverseSyncRequested = "channelsync.revers_sync_integration"
)

// Status is a handler's verdict on a message.
type Status int

const (
	// Ack completes the message.
	Ack Status = iota
	// Reject drops the message without retry.
	Reject
	// Requeue delivers the message again later without counting an attempt.
	Requeue
	// InFlight leaves the message to an earlier delivery that is still
	// running. The row keeps its claim and is redelivered only if that
	// delivery never settles it.
	InFlight
)

func (s Status) String() string {
	switch s {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message is what handlers receive. ID is stable across redeliveries.
type Message struct {
	ID            string
	Topic         string
	IntegrationID int64
	Body          json.RawMessage
	Attempt       int
}

// Decode unmarshals the body; malformed JSON is fatal.
func (m *Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return Fatal(fmt.Errorf("malformed message %s: %w", m.ID, err))
	}
	return nil
}

type Handler interface {
	Handle(ctx context.Context, msg *Message) (Status, error)
}

type HandlerFunc func(ctx context.Context, msg *Message) (Status, error)

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (Status, error) {
	return f(ctx, msg)
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as non-retryable: the message goes straight to dead letters.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
