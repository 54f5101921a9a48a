// Package broker defines the narrow messaging surface the log pipeline
// consumes. The production implementation lives in broker/jetstream;
// pipeline tests substitute stubs.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that no message arrived within the bounded wait.
var ErrTimeout = errors.New("broker: receive timed out")

// ErrSubscriptionClosed reports a severed subscription. Terminal for the
// consumer holding it; a reconnect starts a fresh subscription view.
var ErrSubscriptionClosed = errors.New("broker: subscription closed")

// StreamConfig describes a durable, retention-bounded stream.
type StreamConfig struct {
	Name              string
	SubjectPattern    string
	MaxMsgsPerSubject int64
	MaxAge            time.Duration
}

// Message is a single received payload. Ack confirms processing to the
// broker; it must be called at most once.
type Message interface {
	Data() []byte
	Ack() error
}

// Subscription is one open view onto a subject.
type Subscription interface {
	// Next blocks up to wait for the next message. Returns ErrTimeout when
	// nothing arrived and ErrSubscriptionClosed once severed.
	Next(wait time.Duration) (Message, error)
	Unsubscribe() error
}

// Client is the broker surface used by the pipeline.
type Client interface {
	// EnsureStream creates the stream or verifies a compatible one exists.
	EnsureStream(ctx context.Context, cfg StreamConfig) error
	// Publish emits one payload onto subject and waits for the ack.
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(subject string) (Subscription, error)
}
