package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/cryptolock/ports"
)

// RedisStore records revoked refresh token IDs as keys that expire together
// with the token they block
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed revocation store
func NewRedisStore(client redis.UniversalClient) ports.Store {
	return &RedisStore{
		client: client,
		prefix: "cryptolock:revoked:",
	}
}

// InvalidateToken revokes tokenID for expiry. A second revocation of the
// same token keeps the first deadline.
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}

	err := s.client.SetArgs(ctx, s.key(tokenID), time.Now().Unix(), redis.SetArgs{
		Mode: "NX",
		TTL:  expiry,
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

// IsTokenInvalidated reports whether tokenID is revoked
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + tokenID
}
