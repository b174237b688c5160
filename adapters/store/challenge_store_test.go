package store

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cryptolock/ports"
)

type challengeStoreFactory func(t *testing.T, cfg ChallengeConfig) ports.ChallengeStore

// runChallengeStoreSuite checks the behaviour every ChallengeStore must share
func runChallengeStoreSuite(t *testing.T, newStore challengeStoreFactory) {
	ctx := context.Background()

	t.Run("Generate", func(t *testing.T) {
		clk := clock.NewMock()
		clk.Add(time.Hour)
		s := newStore(t, ChallengeConfig{Clock: clk})

		c, err := s.Generate(ctx)
		require.NoError(t, err)

		raw, err := hex.DecodeString(c.Token)
		require.NoError(t, err)
		assert.Len(t, raw, DefaultChallengeBytes)
		assert.Equal(t, DefaultChallengeTTL, c.ExpiresAt.Sub(c.CreatedAt))

		other, err := s.Generate(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, c.Token, other.Token)
	})

	t.Run("ConfiguredEntropy", func(t *testing.T) {
		s := newStore(t, ChallengeConfig{Bytes: 32, Clock: clock.NewMock()})

		c, err := s.Generate(ctx)
		require.NoError(t, err)

		raw, err := hex.DecodeString(c.Token)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
	})

	t.Run("ExpiryIsMonotonic", func(t *testing.T) {
		clk := clock.NewMock()
		s := newStore(t, ChallengeConfig{TTL: 10 * time.Minute, Clock: clk})

		c, err := s.Generate(ctx)
		require.NoError(t, err)

		assertActive(t, s, c.Token, true)
		clk.Add(10*time.Minute - time.Second)
		assertActive(t, s, c.Token, true)
		clk.Add(time.Second)
		assertActive(t, s, c.Token, false)
		clk.Add(time.Hour)
		assertActive(t, s, c.Token, false)
	})

	t.Run("UnknownTokenIsInactive", func(t *testing.T) {
		s := newStore(t, ChallengeConfig{Clock: clock.NewMock()})
		assertActive(t, s, "deadbeef", false)
	})

	t.Run("InvalidateIsIdempotent", func(t *testing.T) {
		s := newStore(t, ChallengeConfig{Clock: clock.NewMock()})

		c, err := s.Generate(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Invalidate(ctx, c.Token))
		require.NoError(t, s.Invalidate(ctx, c.Token))
		require.NoError(t, s.Invalidate(ctx, "never-issued"))
		assertActive(t, s, c.Token, false)
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		s := newStore(t, ChallengeConfig{Clock: clock.NewMock()})

		c, err := s.Generate(ctx)
		require.NoError(t, err)

		ok, err := s.Consume(ctx, c.Token)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Consume(ctx, c.Token)
		require.NoError(t, err)
		assert.False(t, ok)
		assertActive(t, s, c.Token, false)
	})

	t.Run("ConsumeExpired", func(t *testing.T) {
		clk := clock.NewMock()
		s := newStore(t, ChallengeConfig{TTL: time.Minute, Clock: clk})

		c, err := s.Generate(ctx)
		require.NoError(t, err)
		clk.Add(time.Minute)

		ok, err := s.Consume(ctx, c.Token)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		s := newStore(t, ChallengeConfig{Clock: clock.NewMock()})

		c, err := s.Generate(ctx)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Consume(ctx, c.Token)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("CleanExpired", func(t *testing.T) {
		clk := clock.NewMock()
		s := newStore(t, ChallengeConfig{TTL: time.Minute, Clock: clk})

		for i := 0; i < 3; i++ {
			_, err := s.Generate(ctx)
			require.NoError(t, err)
		}
		clk.Add(2 * time.Minute)

		var fresh []string
		for i := 0; i < 2; i++ {
			c, err := s.Generate(ctx)
			require.NoError(t, err)
			fresh = append(fresh, c.Token)
		}

		removed, err := s.CleanExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		for _, token := range fresh {
			assertActive(t, s, token, true)
		}

		removed, err = s.CleanExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func assertActive(t *testing.T, s ports.ChallengeStore, token string, want bool) {
	t.Helper()
	active, err := s.IsActive(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, want, active)
}

func TestMemoryChallengeStore(t *testing.T) {
	runChallengeStoreSuite(t, func(t *testing.T, cfg ChallengeConfig) ports.ChallengeStore {
		return NewMemoryChallengeStore(cfg)
	})
}

func TestMemoryChallengeStore_CleanExpiredKeepsBoundary(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryChallengeStore(ChallengeConfig{TTL: time.Minute, Clock: clk})

	_, err := s.Generate(context.Background())
	require.NoError(t, err)
	clk.Add(time.Minute)

	// Inactive, but not strictly past its expiry yet
	removed, err := s.CleanExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, s.Len())
}
