package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

// MemoryChallengeStore keeps challenges in a map guarded by a mutex.
// Suitable for tests and single-instance deployments.
type MemoryChallengeStore struct {
	cfg        ChallengeConfig
	challenges map[string]*core.Challenge
	mu         sync.Mutex
}

// NewMemoryChallengeStore creates an in-memory challenge store
func NewMemoryChallengeStore(cfg ChallengeConfig) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		cfg:        cfg.withDefaults(),
		challenges: make(map[string]*core.Challenge),
	}
}

var _ ports.ChallengeStore = (*MemoryChallengeStore)(nil)

// Generate creates and stores a new challenge
func (s *MemoryChallengeStore) Generate(ctx context.Context) (*core.Challenge, error) {
	challenge, err := s.cfg.newChallenge()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.challenges[challenge.Token]; ok && existing.ActiveAt(s.cfg.Clock.Now()) {
		return nil, fmt.Errorf("failed to store challenge: %w", core.ErrChallengeCollision)
	}
	s.challenges[challenge.Token] = challenge

	c := *challenge
	return &c, nil
}

// IsActive reports whether token exists and has not expired
func (s *MemoryChallengeStore) IsActive(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[token]
	return ok && challenge.ActiveAt(s.cfg.Clock.Now()), nil
}

// Invalidate removes token if present
func (s *MemoryChallengeStore) Invalidate(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, token)
	return nil
}

// Consume removes token and reports whether it was still active
func (s *MemoryChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[token]
	if !ok {
		return false, nil
	}
	delete(s.challenges, token)

	return challenge.ActiveAt(s.cfg.Clock.Now()), nil
}

// CleanExpired removes every challenge whose expiry is in the past
func (s *MemoryChallengeStore) CleanExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	var removed int64
	for token, challenge := range s.challenges {
		if challenge.ExpiresAt.Before(now) {
			delete(s.challenges, token)
			removed++
		}
	}

	return removed, nil
}

// Len returns the number of stored challenges, expired ones included
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.challenges)
}
