package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cryptolock/adapters/registry"
	"github.com/layer-3/cryptolock/adapters/store"
	"github.com/layer-3/cryptolock/adapters/tokenizer"
	"github.com/layer-3/cryptolock/adapters/verifier"
	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/internal/metrics"
)

const testIssuer = "https://auth.example.com/auth/login"

// fakeVerifier accepts any address not starting with "bad" and returns a
// configurable verdict
type fakeVerifier struct {
	mu     sync.Mutex
	result bool
	err    error
	block  bool
	calls  int
}

func (f *fakeVerifier) set(result bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = result, err
}

func (f *fakeVerifier) Verify(ctx context.Context, req core.VerifyRequest) (bool, error) {
	f.mu.Lock()
	f.calls++
	result, err, block := f.result, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, fmt.Errorf("%w: %v", core.ErrVerificationBackendUnavailable, ctx.Err())
	}
	return result, err
}

func (f *fakeVerifier) ValidateAddress(address string) error {
	if strings.HasPrefix(address, "bad") {
		return fmt.Errorf("%w: rejected by fake", core.ErrInvalidAddress)
	}
	return nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu      sync.Mutex
	fail    bool
	logins  []*core.Session
	signups []*core.Account
	logouts []string
}

func (p *recordingPublisher) PublishLogin(_ context.Context, session *core.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.logins = append(p.logins, session)
	return nil
}

func (p *recordingPublisher) PublishSignup(_ context.Context, account *core.Account, _ *core.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.signups = append(p.signups, account)
	return nil
}

func (p *recordingPublisher) PublishLogout(_ context.Context, _ string, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.logouts = append(p.logouts, tokenID)
	return nil
}

type harness struct {
	svc        *AuthService
	clock      *clock.Mock
	challenges *store.MemoryChallengeStore
	repo       *registry.MemoryRepository
	registry   *AddressRegistry
	bitcoin    *fakeVerifier
	monero     *fakeVerifier
	events     *recordingPublisher
	metrics    *metrics.Metrics
}

type harnessOption func(*store.ChallengeConfig, *Config)

func withChallengeBytes(n int) harnessOption {
	return func(c *store.ChallengeConfig, _ *Config) { c.Bytes = n }
}

func withVerifyTimeout(d time.Duration) harnessOption {
	return func(_ *store.ChallengeConfig, c *Config) { c.VerifyTimeout = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	challengeCfg := store.ChallengeConfig{TTL: 10 * time.Minute, Clock: clk}
	svcCfg := Config{VerifyTimeout: time.Second}
	for _, opt := range opts {
		opt(&challengeCfg, &svcCfg)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	h := &harness{
		clock:      clk,
		challenges: store.NewMemoryChallengeStore(challengeCfg),
		repo:       registry.NewMemoryRepository(),
		bitcoin:    &fakeVerifier{result: true},
		monero:     &fakeVerifier{result: true},
		events:     &recordingPublisher{},
		metrics:    metrics.New(),
	}

	verifiers := verifier.NewRegistry()
	verifiers.Register(core.NetworkBitcoin, h.bitcoin)
	verifiers.Register(core.NetworkMonero, h.monero)
	h.registry = NewAddressRegistry(h.repo, verifiers, clk)

	h.svc = NewAuthService(Dependencies{
		Challenges: h.challenges,
		Registry:   h.registry,
		Verifiers:  verifiers,
		Tokenizer:  tokenizer.NewJWTTokenizer(key, clk),
		Store:      store.NewMemoryStore(clk),
		Events:     h.events,
		Metrics:    h.metrics,
		Clock:      clk,
		Logger:     log.NewLogger(log.DiscardHandler()),
	}, svcCfg)
	return h
}

func (h *harness) issue(t *testing.T) string {
	t.Helper()
	issued, err := h.svc.IssueChallenge(context.Background(), testIssuer)
	require.NoError(t, err)
	return issued.Challenge
}

func (h *harness) creds(challenge, address string, network core.Network) Credentials {
	return Credentials{
		Address:   address,
		Network:   network,
		Challenge: challenge,
		Signature: "signature",
		Caller:    core.Caller{IssuerURI: testIssuer},
	}
}

// signup creates an account through the full flow
func (h *harness) signup(t *testing.T, username, address string, network core.Network) *core.Account {
	t.Helper()
	account, _, err := h.svc.Signup(context.Background(), SignupRequest{
		Credentials: h.creds(h.issue(t), address, network),
		Username:    username,
	})
	require.NoError(t, err)
	return account
}
