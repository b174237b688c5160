package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/cryptolock/core"
)

// AccessClaims combines standard claims with access-specific ones
type AccessClaims struct {
	jwt.RegisteredClaims
	RefreshID string       `json:"rid"` // ID of the refresh token
	Address   string       `json:"addr"`
	Network   core.Network `json:"net"`
}

// RefreshClaims carry what is needed to mint the next session
type RefreshClaims struct {
	jwt.RegisteredClaims
	Address string       `json:"addr"`
	Network core.Network `json:"net"`
}
