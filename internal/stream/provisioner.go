package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/SOORAJTS2001/uplog/internal/broker"
)

// ProvisioningError reports a broker that rejected stream creation. Fatal
// to the enclosing user-creation request.
type ProvisioningError struct {
	UserID string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision stream for user %s: %v", e.UserID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Provisioner ensures a durable, retention-bounded stream exists per user
// before anything publishes or subscribes against its subjects.
type Provisioner struct {
	client            broker.Client
	maxMsgsPerSubject int64
	maxAge            time.Duration
}

// NewProvisioner constructs a Provisioner with the configured retention
// bounds.
func NewProvisioner(client broker.Client, maxMsgsPerSubject int64, maxAge time.Duration) *Provisioner {
	return &Provisioner{client: client, maxMsgsPerSubject: maxMsgsPerSubject, maxAge: maxAge}
}

// Provision creates (or verifies) the user's stream. Failures are fatal to
// the enclosing user-creation request; callers must not persist a user row
// when this returns an error.
func (p *Provisioner) Provision(ctx context.Context, userID string) error {
	cfg := broker.StreamConfig{
		Name:              StreamName(userID),
		SubjectPattern:    SubjectPattern(userID),
		MaxMsgsPerSubject: p.maxMsgsPerSubject,
		MaxAge:            p.maxAge,
	}
	if err := p.client.EnsureStream(ctx, cfg); err != nil {
		return &ProvisioningError{UserID: userID, Err: err}
	}
	return nil
}
