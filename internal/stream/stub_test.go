package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SOORAJTS2001/uplog/internal/broker"
)

// stubBroker implements broker.Client in memory for pipeline tests.
type stubBroker struct {
	mu          sync.Mutex
	streams     map[string]broker.StreamConfig
	published   map[string][][]byte
	streamErr   error
	publishErr  error
	failSubject map[string]int // subject -> remaining publish failures
	subs        []*stubSubscription
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		streams:     make(map[string]broker.StreamConfig),
		published:   make(map[string][][]byte),
		failSubject: make(map[string]int),
	}
}

func (s *stubBroker) EnsureStream(ctx context.Context, cfg broker.StreamConfig) error {
	if s.streamErr != nil {
		return s.streamErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[cfg.Name] = cfg
	return nil
}

func (s *stubBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failSubject[subject]; n > 0 {
		s.failSubject[subject] = n - 1
		return errors.New("nack")
	}
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published[subject] = append(s.published[subject], payload)
	for _, sub := range s.subs {
		if sub.subject == subject {
			sub.deliver(payload)
		}
	}
	return nil
}

func (s *stubBroker) Subscribe(subject string) (broker.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &stubSubscription{subject: subject, msgs: make(chan []byte, 1024)}
	// replay retained messages, mirroring a deliver-all policy
	for _, payload := range s.published[subject] {
		sub.msgs <- payload
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *stubBroker) openSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := 0
	for _, sub := range s.subs {
		if !sub.isClosed() {
			open++
		}
	}
	return open
}

type stubSubscription struct {
	subject string
	msgs    chan []byte

	mu     sync.Mutex
	closed bool
	acked  int
}

func (s *stubSubscription) deliver(payload []byte) {
	select {
	case s.msgs <- payload:
	default:
	}
}

func (s *stubSubscription) Next(wait time.Duration) (broker.Message, error) {
	if s.isClosed() {
		return nil, broker.ErrSubscriptionClosed
	}
	select {
	case payload := <-s.msgs:
		return &stubMessage{data: payload, sub: s}, nil
	case <-time.After(wait):
		if s.isClosed() {
			return nil, broker.ErrSubscriptionClosed
		}
		return nil, broker.ErrTimeout
	}
}

func (s *stubSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broker.ErrSubscriptionClosed
	}
	s.closed = true
	return nil
}

func (s *stubSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSubscription) ackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

type stubMessage struct {
	data []byte
	sub  *stubSubscription
}

func (m *stubMessage) Data() []byte { return m.data }

func (m *stubMessage) Ack() error {
	m.sub.mu.Lock()
	defer m.sub.mu.Unlock()
	m.sub.acked++
	return nil
}
