package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SOORAJTS2001/uplog/internal/broker"
	"github.com/SOORAJTS2001/uplog/internal/domain"
	"github.com/SOORAJTS2001/uplog/internal/repository"
	"github.com/SOORAJTS2001/uplog/internal/stream"
	"github.com/SOORAJTS2001/uplog/internal/ws"
)

// Sink is one push-stream client connection: batches go out via Send,
// keep-alives via Heartbeat. A write error means the client is gone.
type Sink interface {
	Send(payload []byte) error
	Heartbeat() error
}

// Options carries the pipeline tuning knobs.
type Options struct {
	BatchSize  int
	PullWait   time.Duration
	SessionTTL time.Duration
}

// Service owns session metadata and the ingest/consume pipeline around it.
type Service struct {
	sessions  repository.SessionRepository
	users     repository.UserRepository
	client    broker.Client
	publisher *stream.Publisher
	registry  *ws.Registry
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// New constructs a session service.
func New(sessions repository.SessionRepository, users repository.UserRepository, client broker.Client, publisher *stream.Publisher, registry *ws.Registry, logger *slog.Logger, opts Options) Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	return Service{
		sessions:  sessions,
		users:     users,
		client:    client,
		publisher: publisher,
		registry:  registry,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Create mints a session under an existing, already provisioned user. The
// subject name is unique because the session id is; a collision surfaces
// as repository.ErrConflict, never as two live subjects.
func (s Service) Create(ctx context.Context, userID, tag string, enableSharing bool) (*domain.Session, error) {
	owner, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	id := uuid.NewString()
	now := s.now().UTC()
	sess := &domain.Session{
		ID:            id,
		UserID:        owner.ID,
		StreamName:    owner.StreamName,
		SubjectName:   stream.SubjectName(owner.ID, id),
		Tag:           tag,
		EnableSharing: enableSharing,
		ExpiresAt:     now.Add(s.opts.SessionTTL),
		CreatedAt:     now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.logger.Info("session created", "session_id", sess.ID, "user_id", owner.ID, "subject", sess.SubjectName)
	return sess, nil
}

// Get resolves a session by identifier.
func (s Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.GetSessionByID(ctx, id)
}

// List returns the user's sessions, newest first.
func (s Service) List(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.sessions.ListSessionsByUser(ctx, userID)
}

// Delete removes session metadata. Broker messages are untouched; they age
// out under the stream's own retention.
func (s Service) Delete(ctx context.Context, id string) error {
	return s.sessions.DeleteSession(ctx, id)
}

// Upload validates a batch of entries and publishes them onto the
// session's subject, then bumps the persisted line counter by the number
// of acknowledged entries. Returns how many entries were acknowledged; on
// partial failure the *stream.PublishError identifies the rest.
func (s Service) Upload(ctx context.Context, sessionID, tag string, entries []domain.LogEntry) (int, error) {
	for i, entry := range entries {
		if err := entry.Validate(); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	sess, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("resolve session: %w", err)
	}
	if tag != "" && sess.Tag == "" {
		if err := s.sessions.SetSessionTag(ctx, sess.ID, tag); err != nil {
			s.logger.Warn("failed to tag session", "session_id", sess.ID, "error", err)
		}
	}

	published := len(entries)
	pubErr := s.publisher.Publish(ctx, sess.SubjectName, entries)
	if pubErr != nil {
		var pe *stream.PublishError
		if errors.As(pubErr, &pe) {
			published -= len(pe.FailedIndexes)
		} else {
			published = 0
		}
	}
	if published > 0 {
		if err := s.sessions.AddLogLines(ctx, sess.ID, int64(published)); err != nil {
			s.logger.Warn("failed to bump line counter", "session_id", sess.ID, "error", err)
		}
	}
	if pubErr != nil {
		return published, fmt.Errorf("upload to %s: %w", sess.SubjectName, pubErr)
	}
	return published, nil
}

// Consume drives the push stream for one client connection: it opens a
// fresh subscription view on the session's subject and loops pulling
// batches until the client disconnects or the subscription is severed.
// The subscription is released on every exit path.
func (s Service) Consume(ctx context.Context, sessionID string, sink Sink) error {
	sess, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	batcher, err := stream.OpenBatcher(s.client, sess.SubjectName, s.opts.BatchSize, s.opts.PullWait)
	if err != nil {
		return err
	}
	defer batcher.Close()

	release := s.registry.Add(sess.ID)
	defer release()

	s.logger.Info("consume stream opened", "session_id", sess.ID, "subject", sess.SubjectName)
	for {
		// disconnects are observed between pulls, never mid-pull
		select {
		case <-ctx.Done():
			s.logger.Info("consume stream cancelled", "session_id", sess.ID)
			return nil
		default:
		}

		pull, err := batcher.Next()
		if err != nil {
			if errors.Is(err, broker.ErrSubscriptionClosed) {
				s.logger.Warn("subscription severed", "session_id", sess.ID)
				return err
			}
			return fmt.Errorf("pull from %s: %w", sess.SubjectName, err)
		}

		if pull.Heartbeat {
			if err := sink.Heartbeat(); err != nil {
				return nil
			}
			continue
		}

		payload, err := json.Marshal(pull.Batch)
		if err != nil {
			return fmt.Errorf("encode batch: %w", err)
		}
		if err := sink.Send(payload); err != nil {
			return nil
		}
	}
}
