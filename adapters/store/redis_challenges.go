package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

// generateScript indexes and stores a new challenge unless the key exists.
// The index is written first so a failure leaves nothing behind.
// KEYS[1] challenge key, KEYS[2] expiry index, ARGV[1] expiry (ms),
// ARGV[2] ttl (ms), ARGV[3] token.
var generateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[3])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// consumeScript deletes a challenge and returns 1 only if it was still live.
// KEYS[1] challenge key, KEYS[2] expiry index, ARGV[1] now (ms), ARGV[2] token.
var consumeScript = redis.NewScript(`
local exp = redis.call('GET', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
if not exp then
	return 0
end
redis.call('DEL', KEYS[1])
if tonumber(exp) > tonumber(ARGV[1]) then
	return 1
end
return 0
`)

// cleanScript removes every indexed challenge that expired before ARGV[1].
// KEYS[1] expiry index, ARGV[1] exclusive max score, ARGV[2] key prefix.
var cleanScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, token in ipairs(expired) do
	redis.call('DEL', ARGV[2] .. token)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return #expired
`)

// RedisChallengeStore keeps each challenge under its own key holding the
// expiry in unix milliseconds, plus a sorted set indexing tokens by expiry
// for sweeps. Keys also carry a native TTL so abandoned challenges vanish
// even if no sweep ever runs.
type RedisChallengeStore struct {
	client redis.UniversalClient
	cfg    ChallengeConfig
	prefix string
	index  string
}

// NewRedisChallengeStore creates a Redis-backed challenge store
func NewRedisChallengeStore(client redis.UniversalClient, cfg ChallengeConfig) *RedisChallengeStore {
	return &RedisChallengeStore{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: "cryptolock:challenge:",
		index:  "cryptolock:challenges",
	}
}

var _ ports.ChallengeStore = (*RedisChallengeStore)(nil)

// Generate creates and stores a new challenge
func (s *RedisChallengeStore) Generate(ctx context.Context) (*core.Challenge, error) {
	challenge, err := s.cfg.newChallenge()
	if err != nil {
		return nil, err
	}

	expiresMs := challenge.ExpiresAt.UnixMilli()
	keys := []string{s.key(challenge.Token), s.index}
	stored, err := generateScript.Run(ctx, s.client, keys, expiresMs, s.cfg.TTL.Milliseconds(), challenge.Token).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	if stored == 0 {
		return nil, fmt.Errorf("failed to store challenge: %w", core.ErrChallengeCollision)
	}

	return challenge, nil
}

// IsActive reports whether token exists and has not expired
func (s *RedisChallengeStore) IsActive(ctx context.Context, token string) (bool, error) {
	val, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load challenge: %w", err)
	}

	expiresMs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt challenge record %q: %w", token, err)
	}

	return s.cfg.Clock.Now().UnixMilli() < expiresMs, nil
}

// Invalidate removes token if present
func (s *RedisChallengeStore) Invalidate(ctx context.Context, token string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(token))
		pipe.ZRem(ctx, s.index, token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate challenge: %w", err)
	}
	return nil
}

// Consume atomically removes token and reports whether it was still active
func (s *RedisChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	now := s.cfg.Clock.Now().UnixMilli()
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(token), s.index}, now, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	return n == 1, nil
}

// CleanExpired removes every challenge whose expiry is in the past
func (s *RedisChallengeStore) CleanExpired(ctx context.Context) (int64, error) {
	bound := "(" + strconv.FormatInt(s.cfg.Clock.Now().UnixMilli(), 10)
	n, err := cleanScript.Run(ctx, s.client, []string{s.index}, bound, s.prefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to clean challenges: %w", err)
	}
	return n, nil
}

func (s *RedisChallengeStore) key(token string) string {
	return s.prefix + token
}
