// Package jetstream implements broker.Client on NATS JetStream.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/SOORAJTS2001/uplog/internal/broker"
)

// Client wraps a JetStream context.
type Client struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	deliver nats.SubOpt
}

var _ broker.Client = (*Client)(nil)

// Connect dials NATS and prepares a JetStream context. deliverPolicy is
// "all" (replay retained messages, the default) or "new" (only messages
// published after subscribing).
func Connect(url, deliverPolicy string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("uplog"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	deliver := nats.DeliverAll()
	if deliverPolicy == "new" {
		deliver = nats.DeliverNew()
	}
	return &Client{conn: conn, js: js, deliver: deliver}, nil
}

// EnsureStream creates the stream, tolerating an already existing stream
// with identical configuration. Incompatible config surfaces as an error.
func (c *Client) EnsureStream(ctx context.Context, cfg broker.StreamConfig) error {
	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:              cfg.Name,
		Subjects:          []string{cfg.SubjectPattern},
		MaxMsgsPerSubject: cfg.MaxMsgsPerSubject,
		MaxAge:            cfg.MaxAge,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("add stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Publish emits one payload and waits for the JetStream ack.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	if _, err := c.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe opens an ephemeral, explicitly acked subscription on subject.
func (c *Client) Subscribe(subject string) (broker.Subscription, error) {
	sub, err := c.js.SubscribeSync(subject, nats.AckExplicit(), c.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &subscription{sub: sub}, nil
}

// Healthy reports whether the NATS connection is up.
func (c *Client) Healthy() error {
	if !c.conn.IsConnected() {
		return errors.New("nats connection down")
	}
	return nil
}

// Close drains and releases the connection.
func (c *Client) Close() {
	_ = c.conn.Drain()
}

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) Next(wait time.Duration) (broker.Message, error) {
	msg, err := s.sub.NextMsg(wait)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrTimeout):
			return nil, broker.ErrTimeout
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return nil, broker.ErrSubscriptionClosed
		default:
			return nil, err
		}
	}
	return message{msg: msg}, nil
}

func (s *subscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

type message struct {
	msg *nats.Msg
}

func (m message) Data() []byte { return m.msg.Data }
func (m message) Ack() error   { return m.msg.Ack() }
