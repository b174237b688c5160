package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/internal/db"
	"github.com/layer-3/cryptolock/ports"
)

// PostgresChallengeStore persists challenges in the challenges table
type PostgresChallengeStore struct {
	db  *sql.DB
	cfg ChallengeConfig
}

// NewPostgresChallengeStore creates a Postgres-backed challenge store
func NewPostgresChallengeStore(conn *sql.DB, cfg ChallengeConfig) *PostgresChallengeStore {
	return &PostgresChallengeStore{db: conn, cfg: cfg.withDefaults()}
}

var _ ports.ChallengeStore = (*PostgresChallengeStore)(nil)

// Generate creates and stores a new challenge
func (s *PostgresChallengeStore) Generate(ctx context.Context) (*core.Challenge, error) {
	challenge, err := s.cfg.newChallenge()
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO challenges (token, created_at, expires_at) VALUES ($1, $2, $3)`,
		challenge.Token, challenge.CreatedAt, challenge.ExpiresAt,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return nil, fmt.Errorf("failed to store challenge: %w", core.ErrChallengeCollision)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// IsActive reports whether token exists and has not expired
func (s *PostgresChallengeStore) IsActive(ctx context.Context, token string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM challenges WHERE token = $1 AND expires_at > $2)`,
		token, s.now(),
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("failed to load challenge: %w", err)
	}
	return active, nil
}

// Invalidate removes token if present
func (s *PostgresChallengeStore) Invalidate(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to invalidate challenge: %w", err)
	}
	return nil
}

// Consume deletes token in a single statement and reports whether it was
// still active. Concurrent callers race on the row lock; only one sees the row.
func (s *PostgresChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM challenges WHERE token = $1 RETURNING expires_at`, token,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	return s.now().Before(expiresAt), nil
}

// CleanExpired removes every challenge whose expiry is in the past
func (s *PostgresChallengeStore) CleanExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to clean challenges: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresChallengeStore) now() time.Time {
	return s.cfg.Clock.Now().UTC()
}
