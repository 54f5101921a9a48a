package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/SOORAJTS2001/uplog/internal/repository"
)

const reapTimeout = 30 * time.Second

// Reaper periodically deletes session rows whose advisory expiry passed.
// It only touches metadata: broker retention ages messages out on its own
// clock and is never driven from session expiry.
type Reaper struct {
	sessions repository.SessionRepository
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewReaper constructs a reaper. It returns nil when the interval is
// non-positive, disabling reaping.
func NewReaper(sessions repository.SessionRepository, logger *slog.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		return nil
	}
	return &Reaper{sessions: sessions, logger: logger, interval: interval, now: time.Now}
}

// Run loops until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	reapCtx, cancel := context.WithTimeout(ctx, reapTimeout)
	defer cancel()

	reaped, err := r.sessions.DeleteExpiredSessions(reapCtx, r.now().UTC())
	if err != nil {
		r.logger.Warn("session reap failed", "error", err)
		return
	}
	if reaped > 0 {
		r.logger.Info("expired sessions reaped", "count", reaped)
	}
}
