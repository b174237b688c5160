package core

import "time"

// Network identifies the address family an address belongs to
type Network string

const (
	NetworkBitcoin  Network = "bitcoin"
	NetworkMonero   Network = "monero"
	NetworkEthereum Network = "ethereum"
)

// Challenge represents a single-use authentication challenge
type Challenge struct {
	Token     string    // Raw hex nonce, never the rendered URI
	CreatedAt time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge stops being redeemable
}

// ActiveAt reports whether the challenge can still be redeemed at t
func (c *Challenge) ActiveAt(t time.Time) bool {
	return t.Before(c.ExpiresAt)
}

// Account is the minimal account record owned by one or more addresses
type Account struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Address binds a wallet address of a given network to an account
type Address struct {
	Address   string
	Network   Network
	AccountID string
	CreatedAt time.Time
}

// Caller carries request context a verifier may need
type Caller struct {
	IssuerURI string // Absolute URI the challenge was issued for
	RemoteIP  string
}

// VerifyRequest is a single verification attempt. It is never persisted.
type VerifyRequest struct {
	Address   string
	Network   Network
	Challenge string // External (rendered) challenge, i.e. what the client signed
	Nonce     string // Raw token extracted from Challenge
	Signature string
	Caller    Caller
}

// Session represents an authenticated account session
type Session struct {
	ID            string    // Unique session identifier
	AccountID     string    // Owning account
	Address       string    // Address used to authenticate
	Network       Network   // Network of Address
	IssuedAt      time.Time // When the session was created
	RefreshExpiry time.Time // When the refresh capability expires
	AccessExpiry  time.Time // When the access capability expires
	RefreshID     string    // Unique identifier for the refresh token
}
