package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/layer-3/cryptolock/core"
)

const (
	// DefaultChallengeTTL is how long a challenge stays redeemable
	DefaultChallengeTTL = 10 * time.Minute

	// DefaultChallengeBytes is the entropy of a challenge token
	DefaultChallengeBytes = 16
)

// ChallengeConfig controls how challenges are generated
type ChallengeConfig struct {
	TTL   time.Duration
	Bytes int
	Clock clock.Clock
}

func (c ChallengeConfig) withDefaults() ChallengeConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultChallengeTTL
	}
	if c.Bytes <= 0 {
		c.Bytes = DefaultChallengeBytes
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

func (c ChallengeConfig) newChallenge() (*core.Challenge, error) {
	buf := make([]byte, c.Bytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := c.Clock.Now().UTC()
	return &core.Challenge{
		Token:     hex.EncodeToString(buf),
		CreatedAt: now,
		ExpiresAt: now.Add(c.TTL),
	}, nil
}
