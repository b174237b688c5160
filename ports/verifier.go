package ports

import (
	"context"

	"github.com/layer-3/cryptolock/core"
)

// Verifier checks a signature over a challenge for one network.
// A non-nil error means the result is unknown (backend failure) and must
// never be treated as a rejected signature.
type Verifier interface {
	Verify(ctx context.Context, req core.VerifyRequest) (bool, error)
}

// AddressValidator checks the syntax of an address for one network
type AddressValidator interface {
	ValidateAddress(address string) error
}
