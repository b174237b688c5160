package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cryptolock/core"
)

type staticVerifier bool

func (s staticVerifier) Verify(context.Context, core.VerifyRequest) (bool, error) {
	return bool(s), nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	btc, err := NewBitcoin(BitcoinMainnet)
	require.NoError(t, err)

	r.Register(core.NetworkBitcoin, btc)
	r.Register(core.NetworkEthereum, NewEthereum())
	r.Register("dummy", staticVerifier(true))

	assert.Equal(t, []core.Network{core.NetworkBitcoin, core.NetworkEthereum, "dummy"}, r.Networks())

	v, err := r.Resolve(core.NetworkBitcoin)
	require.NoError(t, err)
	assert.Same(t, btc, v)

	_, err = r.Resolve(core.NetworkMonero)
	assert.ErrorIs(t, err, core.ErrUnsupportedNetwork)

	validator, err := r.Validator(core.NetworkEthereum)
	require.NoError(t, err)
	assert.NoError(t, validator.ValidateAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))

	_, err = r.Validator("dummy")
	assert.ErrorIs(t, err, core.ErrUnsupportedNetwork, "verifiers without address validation have no validator")

	r.Register(core.NetworkBitcoin, staticVerifier(false))
	assert.Equal(t, []core.Network{core.NetworkBitcoin, core.NetworkEthereum, "dummy"}, r.Networks())
	_, err = r.Validator(core.NetworkBitcoin)
	assert.ErrorIs(t, err, core.ErrUnsupportedNetwork)
}
