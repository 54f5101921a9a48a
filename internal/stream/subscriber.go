package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SOORAJTS2001/uplog/internal/broker"
	"github.com/SOORAJTS2001/uplog/internal/domain"
)

const (
	defaultBatchSize = 10
	defaultPullWait  = 5 * time.Second
)

// Pull is the outcome of one bounded-wait receive attempt. Exactly one of
// Batch or Heartbeat is meaningful: a nil-Batch pull with Heartbeat true
// signals an idle interval the consumer should surface as a keep-alive.
type Pull struct {
	Batch     []domain.LogEntry
	Heartbeat bool
}

// Batcher accumulates messages from one subscription into fixed-size
// batches. Each received message is acknowledged as soon as it is buffered,
// bounding redelivery on a crash to the unflushed tail.
type Batcher struct {
	sub       broker.Subscription
	batchSize int
	pullWait  time.Duration
	buf       []domain.LogEntry
	closed    bool
}

// OpenBatcher opens one subscription on subject and wraps it in a Batcher.
func OpenBatcher(client broker.Client, subject string, batchSize int, pullWait time.Duration) (*Batcher, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pullWait <= 0 {
		pullWait = defaultPullWait
	}
	sub, err := client.Subscribe(subject)
	if err != nil {
		return nil, fmt.Errorf("open subscription on %s: %w", subject, err)
	}
	return &Batcher{
		sub:       sub,
		batchSize: batchSize,
		pullWait:  pullWait,
		buf:       make([]domain.LogEntry, 0, batchSize),
	}, nil
}

// Next performs one bounded-wait receive. A full buffer yields a Batch; a
// timeout yields the partial buffer if any is held, otherwise a Heartbeat.
// Partial batches therefore leave the buffer after at most one idle
// interval and are never dropped. Undecodable payloads are skipped after
// acknowledgment. Returns broker.ErrSubscriptionClosed once the
// subscription is severed; that is terminal.
func (b *Batcher) Next() (Pull, error) {
	if b.closed {
		return Pull{}, broker.ErrSubscriptionClosed
	}
	for {
		msg, err := b.sub.Next(b.pullWait)
		if err != nil {
			if errors.Is(err, broker.ErrTimeout) {
				if len(b.buf) > 0 {
					return Pull{Batch: b.flush()}, nil
				}
				return Pull{Heartbeat: true}, nil
			}
			if errors.Is(err, broker.ErrSubscriptionClosed) {
				b.closed = true
			}
			return Pull{}, err
		}

		data := msg.Data()
		if ackErr := msg.Ack(); ackErr != nil {
			return Pull{}, fmt.Errorf("ack message: %w", ackErr)
		}
		var entry domain.LogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		b.buf = append(b.buf, entry)
		if len(b.buf) >= b.batchSize {
			return Pull{Batch: b.flush()}, nil
		}
	}
}

// Buffered reports how many entries are held awaiting a flush.
func (b *Batcher) Buffered() int { return len(b.buf) }

// Close releases the subscription. Safe to call more than once and on all
// consumer exit paths.
func (b *Batcher) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.sub.Unsubscribe()
}

func (b *Batcher) flush() []domain.LogEntry {
	out := b.buf
	b.buf = make([]domain.LogEntry, 0, b.batchSize)
	return out
}
