package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

const (
	TopicLogin  = "cryptolock.login"
	TopicSignup = "cryptolock.signup"
	TopicLogout = "cryptolock.logout"
)

// LoginEvent is published after a challenge is redeemed for an existing account
type LoginEvent struct {
	AccountID string       `json:"account_id"`
	Address   string       `json:"address"`
	Network   core.Network `json:"network"`
	SessionID string       `json:"session_id"`
	IssuedAt  time.Time    `json:"issued_at"`
}

// SignupEvent is published after an account is created
type SignupEvent struct {
	AccountID string       `json:"account_id"`
	Username  string       `json:"username"`
	Address   string       `json:"address"`
	Network   core.Network `json:"network"`
	CreatedAt time.Time    `json:"created_at"`
}

// LogoutEvent represents a logout event
type LogoutEvent struct {
	AccountID string `json:"account_id"`
	TokenID   string `json:"token_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, session *core.Session) error {
	return p.publish(ctx, TopicLogin, session.ID, LoginEvent{
		AccountID: session.AccountID,
		Address:   session.Address,
		Network:   session.Network,
		SessionID: session.ID,
		IssuedAt:  session.IssuedAt,
	})
}

// PublishSignup publishes a signup event
func (p *WatermillPublisher) PublishSignup(ctx context.Context, account *core.Account, address *core.Address) error {
	return p.publish(ctx, TopicSignup, watermill.NewUUID(), SignupEvent{
		AccountID: account.ID,
		Username:  account.Username,
		Address:   address.Address,
		Network:   address.Network,
		CreatedAt: account.CreatedAt,
	})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, accountID string, tokenID string) error {
	return p.publish(ctx, TopicLogout, tokenID, LogoutEvent{
		AccountID: accountID,
		TokenID:   tokenID,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event. It is used when publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishLogin(context.Context, *core.Session) error { return nil }

func (NopPublisher) PublishSignup(context.Context, *core.Account, *core.Address) error { return nil }

func (NopPublisher) PublishLogout(context.Context, string, string) error { return nil }
