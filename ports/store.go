package ports

import (
	"context"
	"time"

	"github.com/layer-3/cryptolock/core"
)

// Store interface for refresh token invalidation
type Store interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}

// ChallengeStore persists single-use challenges.
// Consume must be atomic: for a live token exactly one concurrent caller gets true.
type ChallengeStore interface {
	Generate(ctx context.Context) (*core.Challenge, error)
	IsActive(ctx context.Context, token string) (bool, error)
	Invalidate(ctx context.Context, token string) error
	Consume(ctx context.Context, token string) (bool, error)
	CleanExpired(ctx context.Context) (int64, error)
}

// AccountRepository persists accounts and the addresses they own
type AccountRepository interface {
	// GetOwner returns nil when no account owns address on network
	GetOwner(ctx context.Context, address string, network core.Network) (*core.Account, error)
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	AddressExists(ctx context.Context, address string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	// CreateWithAddress stores both records or neither
	CreateWithAddress(ctx context.Context, account *core.Account, address *core.Address) error
}
