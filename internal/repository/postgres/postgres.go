package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SOORAJTS2001/uplog/internal/domain"
	"github.com/SOORAJTS2001/uplog/internal/repository"
)

const uniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.SessionRepository = (*Repository)(nil)
)

// CreateUser inserts a user row.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (user_id, hashed_ip, stream_name, sessions_alive, sessions_removed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.HashedIP, user.StreamName, user.SessionsAlive, user.SessionsRemoved, user.CreatedAt)
	return mapError(err)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT user_id, hashed_ip, stream_name, sessions_alive, sessions_removed, created_at
		FROM users WHERE user_id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.HashedIP, &u.StreamName, &u.SessionsAlive, &u.SessionsRemoved, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateSession inserts a session row and bumps the owner's live-session
// count in the same transaction.
func (r *Repository) CreateSession(ctx context.Context, session *domain.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO sessions (session_id, user_id, stream_name, subject_name, tag, enable_sharing, log_line_count, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.Exec(ctx, insert, session.ID, session.UserID, session.StreamName, session.SubjectName, session.Tag, session.EnableSharing, session.LogLineCount, session.ExpiresAt, session.CreatedAt); err != nil {
		return mapError(err)
	}
	const bump = `UPDATE users SET sessions_alive = sessions_alive + 1 WHERE user_id = $1`
	if _, err := tx.Exec(ctx, bump, session.UserID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSessionByID retrieves a session by identifier.
func (r *Repository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	const query = `SELECT session_id, user_id, stream_name, subject_name, tag, enable_sharing, log_line_count, expires_at, created_at
		FROM sessions WHERE session_id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.StreamName, &s.SubjectName, &s.Tag, &s.EnableSharing, &s.LogLineCount, &s.ExpiresAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSessionsByUser returns the user's sessions, newest first.
func (r *Repository) ListSessionsByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	const query = `SELECT session_id, user_id, stream_name, subject_name, tag, enable_sharing, log_line_count, expires_at, created_at
		FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.StreamName, &s.SubjectName, &s.Tag, &s.EnableSharing, &s.LogLineCount, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session row and moves the owner's counters from
// alive to removed.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const del = `DELETE FROM sessions WHERE session_id = $1 RETURNING user_id`
	var userID string
	if err := tx.QueryRow(ctx, del, id).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	const bump = `UPDATE users SET sessions_alive = GREATEST(sessions_alive - 1, 0), sessions_removed = sessions_removed + 1 WHERE user_id = $1`
	if _, err := tx.Exec(ctx, bump, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AddLogLines bumps the per-session ingested-line counter. The single
// UPDATE keeps concurrent uploads serialized by the database.
func (r *Repository) AddLogLines(ctx context.Context, id string, n int64) error {
	const query = `UPDATE sessions SET log_line_count = log_line_count + $2 WHERE session_id = $1`
	tag, err := r.pool.Exec(ctx, query, id, n)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetSessionTag records a tag on a session that has none yet.
func (r *Repository) SetSessionTag(ctx context.Context, id, tag string) error {
	const query = `UPDATE sessions SET tag = $2 WHERE session_id = $1 AND tag = ''`
	_, err := r.pool.Exec(ctx, query, id, tag)
	return err
}

// DeleteExpiredSessions reaps sessions whose advisory expiry passed and
// accounts them as removed on their owners.
func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	const del = `DELETE FROM sessions WHERE expires_at < $1 RETURNING user_id`
	rows, err := tx.Query(ctx, del, now)
	if err != nil {
		return 0, err
	}
	owners := make(map[string]int64)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return 0, err
		}
		owners[userID]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var reaped int64
	const bump = `UPDATE users SET sessions_alive = GREATEST(sessions_alive - $2, 0), sessions_removed = sessions_removed + $2 WHERE user_id = $1`
	for userID, n := range owners {
		if _, err := tx.Exec(ctx, bump, userID, n); err != nil {
			return 0, err
		}
		reaped += n
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return reaped, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}
