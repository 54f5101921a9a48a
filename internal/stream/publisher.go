package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SOORAJTS2001/uplog/internal/broker"
	"github.com/SOORAJTS2001/uplog/internal/domain"
)

const (
	defaultMaxInFlight = 32
	defaultAckTimeout  = 5 * time.Second
)

// PublishError reports an upload whose emissions were not all acknowledged.
// FailedIndexes are positions in the input batch; entries not listed were
// acknowledged by the broker and are durable.
type PublishError struct {
	FailedIndexes []int
	Err           error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed for %d entries: %v", len(e.FailedIndexes), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher emits log entries onto session subjects, one message per entry.
type Publisher struct {
	client      broker.Client
	maxInFlight int
	ackTimeout  time.Duration
}

// NewPublisher constructs a Publisher. maxInFlight caps concurrent
// emissions per call so pathologically large batches cannot exhaust
// broker connections. ackTimeout bounds how long each emission may wait
// for its acknowledgment; a hung broker fails the entry instead of
// holding the upload open.
func NewPublisher(client broker.Client, maxInFlight int, ackTimeout time.Duration) *Publisher {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &Publisher{client: client, maxInFlight: maxInFlight, ackTimeout: ackTimeout}
}

// Publish serializes each entry independently and emits all of them
// concurrently, waiting up to the ack timeout for each acknowledgment
// before returning. Wire order across entries is not guaranteed; each
// payload is atomic. On any
// unacknowledged emission the returned *PublishError identifies which
// entries failed. Nothing is buffered locally; durability is the broker's
// once it acks.
func (p *Publisher) Publish(ctx context.Context, subject string, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxInFlight)

	for i, entry := range entries {
		g.Go(func() error {
			payload, err := json.Marshal(entry)
			if err == nil {
				ackCtx, cancel := context.WithTimeout(gctx, p.ackTimeout)
				err = p.client.Publish(ackCtx, subject, payload)
				cancel()
			}
			if err != nil {
				mu.Lock()
				failed = append(failed, i)
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sort.Ints(failed)
		return &PublishError{FailedIndexes: failed, Err: err}
	}
	return nil
}
