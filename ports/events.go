package ports

import (
	"context"

	"github.com/layer-3/cryptolock/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogin(ctx context.Context, session *core.Session) error
	PublishSignup(ctx context.Context, account *core.Account, address *core.Address) error
	PublishLogout(ctx context.Context, accountID string, tokenID string) error
}
