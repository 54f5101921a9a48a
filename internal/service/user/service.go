package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SOORAJTS2001/uplog/internal/domain"
	"github.com/SOORAJTS2001/uplog/internal/repository"
	"github.com/SOORAJTS2001/uplog/internal/stream"
	"github.com/SOORAJTS2001/uplog/pkg/crypto"
)

// Service creates and resolves anonymous users.
type Service struct {
	users       repository.UserRepository
	provisioner *stream.Provisioner
	ipHashSalt  string
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a user service.
func New(users repository.UserRepository, provisioner *stream.Provisioner, ipHashSalt string, logger *slog.Logger) Service {
	return Service{
		users:       users,
		provisioner: provisioner,
		ipHashSalt:  ipHashSalt,
		logger:      logger,
		now:         time.Now,
	}
}

// Create mints a user: the broker stream is provisioned before the row is
// persisted, so a provisioning failure never leaves a partial user record.
func (s Service) Create(ctx context.Context, clientIP string) (*domain.User, error) {
	id := uuid.NewString()

	if err := s.provisioner.Provision(ctx, id); err != nil {
		return nil, fmt.Errorf("user creation: %w", err)
	}

	u := &domain.User{
		ID:         id,
		HashedIP:   crypto.HashIP(s.ipHashSalt, clientIP),
		StreamName: stream.StreamName(id),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}
	s.logger.Info("user created", "user_id", u.ID, "stream", u.StreamName)
	return u, nil
}

// Get resolves a user by identifier.
func (s Service) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, id)
}
