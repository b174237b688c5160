package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cryptolock/adapters/bitid"
	"github.com/layer-3/cryptolock/adapters/events"
	"github.com/layer-3/cryptolock/adapters/registry"
	"github.com/layer-3/cryptolock/adapters/store"
	"github.com/layer-3/cryptolock/adapters/tokenizer"
	"github.com/layer-3/cryptolock/adapters/verifier"
	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/internal/metrics"
	"github.com/layer-3/cryptolock/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// signatureOracle accepts the signature "good" for challenges that point back
// at the endpoint redeeming them
type signatureOracle struct{}

func (signatureOracle) Verify(_ context.Context, req core.VerifyRequest) (bool, error) {
	switch {
	case req.Signature == "down":
		return false, fmt.Errorf("%w: wallet offline", core.ErrVerificationBackendUnavailable)
	case !bitid.CallbackMatches(req.Challenge, req.Caller.IssuerURI):
		return false, nil
	}
	return req.Signature == "good", nil
}

func (signatureOracle) ValidateAddress(address string) error {
	if strings.HasPrefix(address, "bad") {
		return core.ErrInvalidAddress
	}
	return nil
}

func newTestRouter(t *testing.T, publicURL string) *gin.Engine {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	verifiers := verifier.NewRegistry()
	verifiers.Register(core.NetworkMonero, signatureOracle{})
	verifiers.Register(core.NetworkBitcoin, signatureOracle{})

	logger := log.NewLogger(log.DiscardHandler())
	m := metrics.New()
	svc := service.NewAuthService(service.Dependencies{
		Challenges: store.NewMemoryChallengeStore(store.ChallengeConfig{}),
		Registry:   service.NewAddressRegistry(registry.NewMemoryRepository(), verifiers, nil),
		Verifiers:  verifiers,
		Tokenizer:  tokenizer.NewJWTTokenizer(key, nil),
		Store:      store.NewMemoryStore(nil),
		Events:     events.NopPublisher{},
		Metrics:    m,
		Logger:     logger,
	}, service.Config{})

	return SetupRouter(RouterConfig{
		AuthService: svc,
		Metrics:     m,
		PublicURL:   publicURL,
		Logger:      logger,
	})
}

func do(t *testing.T, router *gin.Engine, method, path string, body any, bearer string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func challenge(t *testing.T, router *gin.Engine, path string) string {
	t.Helper()
	rec, body := do(t, router, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, body, "expires")
	return body["challenge"].(string)
}

func fieldErrorsOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, "body has no errors object: %v", body)
	return errs
}

func signup(t *testing.T, router *gin.Engine, username, address, network string) map[string]any {
	t.Helper()
	rec, body := do(t, router, http.MethodPost, "/auth/signup", gin.H{
		"username":  username,
		"address":   address,
		"network":   network,
		"challenge": challenge(t, router, "/auth/signup"),
		"signature": "good",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body
}

func TestChallengeEndpoints(t *testing.T) {
	router := newTestRouter(t, "")

	login := challenge(t, router, "/auth/login")
	assert.True(t, strings.HasPrefix(login, "bitid://example.com/auth/login?x="))
	assert.True(t, strings.HasSuffix(login, "&u=1"))

	signupChallenge := challenge(t, router, "/auth/signup")
	assert.True(t, strings.HasPrefix(signupChallenge, "bitid://example.com/auth/signup?x="))
	assert.NotEqual(t, login, signupChallenge)
}

func TestChallengeEndpoints_PublicURL(t *testing.T) {
	router := newTestRouter(t, "https://auth.example.org/")

	c := challenge(t, router, "/auth/login")
	assert.True(t, strings.HasPrefix(c, "bitid://auth.example.org/auth/login?x="))
	assert.NotContains(t, c, "u=1")
}

func TestSignupLoginAndSession(t *testing.T) {
	router := newTestRouter(t, "")

	created := signup(t, router, "alice", "addr-1", "monero")
	assert.Equal(t, "Bearer", created["token_type"])
	assert.Equal(t, float64(300), created["expires_in"])
	assert.Equal(t, "alice", created["account"].(map[string]any)["username"])

	rec, tokens := do(t, router, http.MethodPost, "/auth/login", gin.H{
		"address":   "addr-1",
		"network":   "monero",
		"challenge": challenge(t, router, "/auth/login"),
		"signature": "good",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := tokens["access_token"].(string)

	rec, me := do(t, router, http.MethodGet, "/api/me", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, "addr-1", me["address"])
	assert.Equal(t, "monero", me["network"])

	rec, authz := do(t, router, http.MethodGet, "/api/authorize", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, authz["authorized"])
	assert.Equal(t, me["account_id"], authz["account_id"])
}

func TestLogin_Errors(t *testing.T) {
	router := newTestRouter(t, "")
	signup(t, router, "alice", "addr-1", "monero")

	tests := []struct {
		name    string
		body    any
		status  int
		field   string
		message string
	}{
		{
			name:    "malformed challenge",
			body:    gin.H{"address": "addr-1", "network": "monero", "challenge": "hello", "signature": "good"},
			status:  http.StatusBadRequest,
			field:   "challenge",
			message: msgMalformedChallenge,
		},
		{
			name:    "unknown challenge",
			body:    gin.H{"address": "addr-1", "network": "monero", "challenge": "bitid://example.com/auth/login?x=00&u=1", "signature": "good"},
			status:  http.StatusBadRequest,
			field:   "challenge",
			message: msgExpiredChallenge,
		},
		{
			name:    "unknown address",
			body:    gin.H{"address": "addr-2", "network": "monero", "challenge": challenge(t, router, "/auth/login"), "signature": "good"},
			status:  http.StatusBadRequest,
			field:   nonFieldErrors,
			message: msgInvalidCredentials,
		},
		{
			name:    "bad signature",
			body:    gin.H{"address": "addr-1", "network": "monero", "challenge": challenge(t, router, "/auth/login"), "signature": "forged"},
			status:  http.StatusBadRequest,
			field:   nonFieldErrors,
			message: msgInvalidCredentials,
		},
		{
			name:    "challenge for another endpoint",
			body:    gin.H{"address": "addr-1", "network": "monero", "challenge": challenge(t, router, "/auth/signup"), "signature": "good"},
			status:  http.StatusBadRequest,
			field:   nonFieldErrors,
			message: msgInvalidCredentials,
		},
		{
			name:    "backend down",
			body:    gin.H{"address": "addr-1", "network": "monero", "challenge": challenge(t, router, "/auth/login"), "signature": "down"},
			status:  http.StatusServiceUnavailable,
			field:   nonFieldErrors,
			message: msgBackendUnavailable,
		},
		{
			name:    "unsupported network",
			body:    gin.H{"address": "addr-1", "network": "ethereum", "challenge": challenge(t, router, "/auth/login"), "signature": "good"},
			status:  http.StatusBadRequest,
			field:   "network",
			message: msgUnsupportedNetwork,
		},
		{
			name:    "missing signature",
			body:    gin.H{"address": "addr-1", "network": "monero", "challenge": challenge(t, router, "/auth/login")},
			status:  http.StatusBadRequest,
			field:   "signature",
			message: msgFieldRequired,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(t, router, http.MethodPost, "/auth/login", tc.body, "")
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, []any{tc.message}, fieldErrorsOf(t, body)[tc.field])
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		rec, body := do(t, router, http.MethodPost, "/auth/login", "{", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, msgInvalidRequest, body["error"])
	})
}

func TestLogin_MissingFieldsReportedTogether(t *testing.T) {
	router := newTestRouter(t, "")

	rec, body := do(t, router, http.MethodPost, "/auth/login", gin.H{}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	errs := fieldErrorsOf(t, body)
	for _, field := range []string{"address", "challenge", "signature"} {
		assert.Equal(t, []any{msgFieldRequired}, errs[field], field)
	}
}

func TestSignup_Errors(t *testing.T) {
	router := newTestRouter(t, "")
	signup(t, router, "alice", "X", "monero")

	tests := []struct {
		name    string
		body    gin.H
		field   string
		message string
	}{
		{"duplicate address on another network", gin.H{"username": "bob", "address": "X", "network": "bitcoin", "signature": "good"}, "address", msgDuplicateAddress},
		{"taken username", gin.H{"username": "alice", "address": "Y", "network": "monero", "signature": "good"}, "username", msgDuplicateUsername},
		{"invalid username", gin.H{"username": "bob smith", "address": "Y", "network": "monero", "signature": "good"}, "username", msgInvalidUsername},
		{"invalid address", gin.H{"username": "bob", "address": "bad-Y", "network": "monero", "signature": "good"}, "address", msgInvalidAddress},
		{"bad signature", gin.H{"username": "bob", "address": "Y", "network": "monero", "signature": "forged"}, "signature", msgInvalidSignature},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.body["challenge"] = challenge(t, router, "/auth/signup")
			rec, body := do(t, router, http.MethodPost, "/auth/signup", tc.body, "")
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, []any{tc.message}, fieldErrorsOf(t, body)[tc.field])
		})
	}
}

func TestRefreshAndLogout(t *testing.T) {
	router := newTestRouter(t, "")
	tokens := signup(t, router, "alice", "addr-1", "bitcoin")
	refresh := tokens["refresh_token"].(string)

	rec, rotated := do(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": refresh}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, refresh, rotated["refresh_token"])

	rec, body := do(t, router, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Refresh token has been invalidated", body["error"])

	rec, _ = do(t, router, http.MethodPost, "/auth/logout", gin.H{"refresh_token": rotated["refresh_token"]}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/me", nil, rotated["access_token"].(string))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/auth/logout", gin.H{"refresh_token": "garbage"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/auth/refresh", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(t, "")
	tokens := signup(t, router, "alice", "addr-1", "bitcoin")

	rec, body := do(t, router, http.MethodGet, "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgAuthorizationHeader, body["error"])

	rec, body = do(t, router, http.MethodGet, "/api/me", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", body["error"])

	// a refresh token is not an access token
	rec, _ = do(t, router, http.MethodGet, "/api/authorize", nil, tokens["refresh_token"].(string))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, "")

	rec, body := do(t, router, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = do(t, router, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
