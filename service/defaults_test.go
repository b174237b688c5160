package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cryptolock/adapters/store"
	"github.com/layer-3/cryptolock/adapters/tokenizer"
	"github.com/layer-3/cryptolock/adapters/verifier"
	"github.com/layer-3/cryptolock/core"
)

func TestNewAuthService_OptionalDependencies(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "alice", "addr-1", core.NetworkBitcoin)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	verifiers := verifier.NewRegistry()
	verifiers.Register(core.NetworkBitcoin, h.bitcoin)

	// no events, metrics, clock or logger
	svc := NewAuthService(Dependencies{
		Challenges: h.challenges,
		Registry:   h.registry,
		Verifiers:  verifiers,
		Tokenizer:  tokenizer.NewJWTTokenizer(key, nil),
		Store:      store.NewMemoryStore(nil),
	}, Config{})

	issued, err := svc.IssueChallenge(context.Background(), testIssuer)
	require.NoError(t, err)

	var tokens *Tokens
	require.NotPanics(t, func() {
		tokens, err = svc.Login(context.Background(), h.creds(issued.Challenge, "addr-1", core.NetworkBitcoin))
	})
	require.NoError(t, err)

	assert.NoError(t, svc.Logout(context.Background(), tokens.RefreshToken))
}
