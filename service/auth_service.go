package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/layer-3/cryptolock/adapters/bitid"
	"github.com/layer-3/cryptolock/adapters/events"
	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/internal/metrics"
	"github.com/layer-3/cryptolock/ports"
)

const (
	defaultVerifyTimeout = 10 * time.Second
	defaultAccessTTL     = 5 * time.Minute
	defaultRefreshTTL    = 5 * 24 * time.Hour
)

// Verifiers resolves the verification strategy for a network
type Verifiers interface {
	Resolve(network core.Network) (ports.Verifier, error)
}

// Config tunes the authentication service. Zero values select defaults.
type Config struct {
	VerifyTimeout time.Duration
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Dependencies are the collaborators of AuthService
type Dependencies struct {
	Challenges ports.ChallengeStore
	Registry   *AddressRegistry
	Verifiers  Verifiers
	Tokenizer  ports.Tokenizer
	Store      ports.Store
	Events     ports.EventPublisher // optional
	Metrics    *metrics.Metrics     // optional
	Clock      clock.Clock          // optional
	Logger     log.Logger           // optional
}

// IssuedChallenge is what a client signs to authenticate
type IssuedChallenge struct {
	Challenge string    `json:"challenge"`
	Expires   time.Time `json:"expires"`
}

// Credentials is a signed challenge presented for redemption
type Credentials struct {
	Address   string
	Network   core.Network // empty means detect from the address format
	Challenge string       // external (BitID) form
	Signature string
	Caller    core.Caller
}

// SignupRequest redeems a challenge to create an account
type SignupRequest struct {
	Credentials
	Username string
}

// Tokens is an issued session
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Session      *core.Session
}

// AuthService handles authentication business logic
type AuthService struct {
	challenges ports.ChallengeStore
	registry   *AddressRegistry
	verifiers  Verifiers
	tokenizer  ports.Tokenizer
	store      ports.Store
	eventPub   ports.EventPublisher
	metrics    *metrics.Metrics
	clock      clock.Clock
	log        log.Logger

	verifyTimeout time.Duration
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(deps Dependencies, cfg Config) *AuthService {
	s := &AuthService{
		challenges:    deps.Challenges,
		registry:      deps.Registry,
		verifiers:     deps.Verifiers,
		tokenizer:     deps.Tokenizer,
		store:         deps.Store,
		eventPub:      deps.Events,
		metrics:       deps.Metrics,
		clock:         deps.Clock,
		log:           deps.Logger,
		verifyTimeout: cfg.VerifyTimeout,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = log.New("module", "auth")
	}
	if s.eventPub == nil {
		s.eventPub = events.NopPublisher{}
	}
	if s.verifyTimeout <= 0 {
		s.verifyTimeout = defaultVerifyTimeout
	}
	if s.accessTTL <= 0 {
		s.accessTTL = defaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = defaultRefreshTTL
	}
	return s
}

// IssueChallenge creates a challenge bound to issuerURI
func (s *AuthService) IssueChallenge(ctx context.Context, issuerURI string) (*IssuedChallenge, error) {
	challenge, err := s.challenges.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	external, err := bitid.Render(challenge.Token, issuerURI)
	if err != nil {
		// never handed out, so it must not stay redeemable
		if ierr := s.challenges.Invalidate(context.WithoutCancel(ctx), challenge.Token); ierr != nil {
			s.log.Warn("Failed to drop unrendered challenge", "err", ierr)
		}
		return nil, fmt.Errorf("render challenge: %w", err)
	}

	s.metrics.ChallengeIssued()
	return &IssuedChallenge{Challenge: external, Expires: challenge.ExpiresAt}, nil
}

// Login redeems a challenge signed by an address that already owns an account
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*Tokens, error) {
	var account *core.Account
	network, err := s.redeem(ctx, creds, func(ctx context.Context, network core.Network) error {
		owner, err := s.registry.LookupOwner(ctx, creds.Address, network)
		if err != nil {
			return err
		}
		account = owner
		return nil
	})
	s.observe(metrics.FlowLogin, network, err)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issueTokens(account.ID, creds.Address, network)
	if err != nil {
		return nil, err
	}

	if err := s.eventPub.PublishLogin(ctx, tokens.Session); err != nil {
		s.log.Warn("Failed to publish login event", "account", account.ID, "err", err)
	}
	s.log.Info("Login", "account", account.ID, "network", network)
	return tokens, nil
}

// Signup redeems a challenge to create a new account owning the signing address
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*core.Account, *Tokens, error) {
	if err := ValidateUsername(req.Username); err != nil {
		s.observe(metrics.FlowSignup, req.Network, err)
		return nil, nil, err
	}

	network, err := s.redeem(ctx, req.Credentials, func(ctx context.Context, network core.Network) error {
		if err := s.registry.ValidateFormat(req.Address, network); err != nil {
			return core.NewValidationError("address", err)
		}
		registered, err := s.registry.IsRegistered(ctx, req.Address)
		if err != nil {
			return fmt.Errorf("check address: %w", err)
		}
		if registered {
			return core.NewValidationError("address", core.ErrDuplicateAddress)
		}
		taken, err := s.registry.UsernameTaken(ctx, req.Username)
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if taken {
			return core.NewValidationError("username", core.ErrDuplicateUsername)
		}
		return nil
	})
	if err != nil {
		s.observe(metrics.FlowSignup, network, err)
		return nil, nil, err
	}

	// the challenge is spent at this point; a concurrent signup for the same
	// address or username is rejected by the repository
	account, address, err := s.registry.Register(context.WithoutCancel(ctx), req.Username, req.Address, network)
	s.observe(metrics.FlowSignup, network, err)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(account.ID, address.Address, network)
	if err != nil {
		return nil, nil, err
	}

	if err := s.eventPub.PublishSignup(ctx, account, address); err != nil {
		s.log.Warn("Failed to publish signup event", "account", account.ID, "err", err)
	}
	s.log.Info("Signup", "account", account.ID, "username", account.Username, "network", network)
	return account, tokens, nil
}

// redeem runs the shared part of the login and signup flows. check runs
// after the challenge is known to be live and before the signature is
// verified. On success the challenge has been consumed.
func (s *AuthService) redeem(ctx context.Context, creds Credentials, check func(context.Context, core.Network) error) (core.Network, error) {
	network := creds.Network
	if err := requireFields(creds); err != nil {
		return network, err
	}

	nonce, err := bitid.Parse(creds.Challenge)
	if err != nil {
		return network, err
	}

	active, err := s.challenges.IsActive(ctx, nonce)
	if err != nil {
		return network, fmt.Errorf("check challenge: %w", err)
	}
	if !active {
		return network, core.ErrInvalidOrExpiredChallenge
	}

	if network == "" {
		network, err = s.registry.DetectNetwork(creds.Address)
		if err != nil {
			return network, core.NewValidationError("address", err)
		}
	}
	verifier, err := s.verifiers.Resolve(network)
	if err != nil {
		return network, core.NewValidationError("network", err)
	}

	if err := check(ctx, network); err != nil {
		return network, err
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	started := s.clock.Now()
	ok, err := verifier.Verify(verifyCtx, core.VerifyRequest{
		Address:   creds.Address,
		Network:   network,
		Challenge: creds.Challenge,
		Nonce:     nonce,
		Signature: creds.Signature,
		Caller:    creds.Caller,
	})
	cancel()
	s.metrics.ObserveVerify(string(network), s.clock.Since(started))

	if err != nil {
		if !errors.Is(err, core.ErrVerificationBackendUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrVerificationBackendUnavailable, err)
		}
		s.log.Warn("Verification backend failed", "network", network, "err", err)
		return network, err
	}

	// the outcome is final, so commit it even if the caller went away
	commitCtx := context.WithoutCancel(ctx)

	if !ok {
		if _, err := s.challenges.Consume(commitCtx, nonce); err != nil {
			s.log.Warn("Failed to consume rejected challenge", "err", err)
		}
		s.log.Debug("Signature rejected", "network", network, "address", creds.Address)
		return network, core.ErrSignatureInvalid
	}

	consumed, err := s.challenges.Consume(commitCtx, nonce)
	if err != nil {
		return network, fmt.Errorf("consume challenge: %w", err)
	}
	if !consumed {
		return network, core.ErrInvalidOrExpiredChallenge
	}

	s.cleanExpired(commitCtx)
	return network, nil
}

func requireFields(creds Credentials) error {
	var errs []error
	if creds.Address == "" {
		errs = append(errs, core.NewValidationError("address", core.ErrFieldRequired))
	}
	if creds.Challenge == "" {
		errs = append(errs, core.NewValidationError("challenge", core.ErrFieldRequired))
	}
	if creds.Signature == "" {
		errs = append(errs, core.NewValidationError("signature", core.ErrFieldRequired))
	}
	return errors.Join(errs...)
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (*Tokens, error) {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	now := s.clock.Now()
	if now.After(session.RefreshExpiry) {
		return nil, core.ErrTokenExpired
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	account, err := s.registry.Account(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}

	// the old token stays blocked for the rest of its lifetime
	if err := s.store.InvalidateToken(ctx, session.RefreshID, session.RefreshExpiry.Sub(now)); err != nil {
		return nil, fmt.Errorf("failed to invalidate old token: %w", err)
	}

	tokens, err := s.issueTokens(account.ID, session.Address, session.Network)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionRefreshed()
	return tokens, nil
}

// Logout invalidates a refresh token
func (s *AuthService) Logout(ctx context.Context, refreshTokenStr string) error {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	// the tokenizer rejects expired tokens, so the remaining lifetime is positive
	remaining := session.RefreshExpiry.Sub(s.clock.Now())
	if err := s.store.InvalidateToken(ctx, session.RefreshID, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	// the store is authoritative; the event only informs other instances
	if err := s.eventPub.PublishLogout(ctx, session.AccountID, session.RefreshID); err != nil {
		s.log.Warn("Failed to publish logout event", "account", session.AccountID, "err", err)
	}
	return nil
}

// ValidateAccessToken returns the session behind a live access token
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	if s.clock.Now().After(session.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	// access tokens die with their refresh token
	if session.RefreshID != "" {
		invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token invalidation: %w", err)
		}
		if invalidated {
			return nil, core.ErrTokenInvalidated
		}
	}

	return session, nil
}

// Account returns the account behind a session
func (s *AuthService) Account(ctx context.Context, session *core.Session) (*core.Account, error) {
	return s.registry.Account(ctx, session.AccountID)
}

// RunSweeper removes expired challenges every interval until ctx is done
func (s *AuthService) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	s.log.Info("Challenge sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cleanExpired(ctx)
		}
	}
}

func (s *AuthService) cleanExpired(ctx context.Context) {
	n, err := s.challenges.CleanExpired(ctx)
	if err != nil {
		s.log.Warn("Failed to clean expired challenges", "err", err)
		return
	}
	s.metrics.Swept(n)
	if n > 0 {
		s.log.Debug("Cleaned expired challenges", "count", n)
	}
}

func (s *AuthService) issueTokens(accountID, address string, network core.Network) (*Tokens, error) {
	now := s.clock.Now()
	session := &core.Session{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		Address:       address,
		Network:       network,
		IssuedAt:      now,
		RefreshExpiry: now.Add(s.refreshTTL),
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshID:     uuid.New().String(),
	}

	accessToken, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return &Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.accessTTL,
		Session:      session,
	}, nil
}

func (s *AuthService) observe(flow string, network core.Network, err error) {
	// network comes from the client; only served networks become label values
	label := metrics.NetworkUnknown
	if network != "" {
		if _, rerr := s.verifiers.Resolve(network); rerr == nil {
			label = string(network)
		}
	}
	s.metrics.ObserveRedemption(flow, label, outcome(err))
	if err != nil && core.IsClientError(err) {
		s.log.Debug("Redemption rejected", "flow", flow, "network", network, "err", err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, core.ErrMalformedChallenge):
		return metrics.OutcomeMalformed
	case errors.Is(err, core.ErrInvalidOrExpiredChallenge):
		return metrics.OutcomeExpired
	case errors.Is(err, core.ErrUnsupportedNetwork):
		return metrics.OutcomeUnsupported
	case errors.Is(err, core.ErrVerificationBackendUnavailable):
		return metrics.OutcomeUnavailable
	case core.IsClientError(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
