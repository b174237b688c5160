package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/cryptolock/core"
)

// Ethereum verifies EIP-191 personal_sign signatures
type Ethereum struct{}

// NewEthereum creates an Ethereum verifier
func NewEthereum() *Ethereum {
	return &Ethereum{}
}

// ValidateAddress accepts 0x-prefixed hex addresses. Mixed-case addresses
// must carry a valid EIP-55 checksum.
func (e *Ethereum) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return fmt.Errorf("%w: not a hex address", core.ErrInvalidAddress)
	}
	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(address).Hex() != address {
			return fmt.Errorf("%w: bad checksum", core.ErrInvalidAddress)
		}
	}
	return nil
}

// Verify recovers the signer of the external challenge and compares it
// with the claimed address
func (e *Ethereum) Verify(_ context.Context, req core.VerifyRequest) (bool, error) {
	if !boundToIssuer(req) || !common.IsHexAddress(req.Address) {
		return false, nil
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false, nil
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return false, nil
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(req.Challenge)), sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(req.Address), nil
}
