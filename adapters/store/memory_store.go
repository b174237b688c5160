package store

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/layer-3/cryptolock/ports"
)

// MemoryStore keeps revoked token IDs in process memory. Revocations are lost
// on restart, so it only suits single-instance deployments and tests.
type MemoryStore struct {
	revoked map[string]time.Time
	clock   clock.Clock
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store. A nil clock uses wall time.
func NewMemoryStore(clk clock.Clock) ports.Store {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		revoked: make(map[string]time.Time),
		clock:   clk,
	}
}

// InvalidateToken revokes tokenID for expiry. A second revocation of the
// same token keeps the first deadline.
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, until := range s.revoked {
		if !now.Before(until) {
			delete(s.revoked, id)
		}
	}
	if _, ok := s.revoked[tokenID]; !ok {
		s.revoked[tokenID] = now.Add(expiry)
	}
	return nil
}

// IsTokenInvalidated reports whether tokenID is revoked
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, ok := s.revoked[tokenID]
	return ok && s.clock.Now().Before(until), nil
}
