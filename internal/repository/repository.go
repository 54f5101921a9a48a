package repository

import (
	"context"
	"time"

	"github.com/SOORAJTS2001/uplog/internal/domain"
)

// UserRepository persists anonymous users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// SessionRepository persists recording-session metadata.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSessionByID(ctx context.Context, id string) (*domain.Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
	// AddLogLines atomically bumps the session's ingested-line counter.
	AddLogLines(ctx context.Context, id string, n int64) error
	// SetSessionTag records a tag on an untagged session.
	SetSessionTag(ctx context.Context, id, tag string) error
	// DeleteExpiredSessions removes sessions whose advisory expiry passed
	// and returns how many rows were reaped.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
