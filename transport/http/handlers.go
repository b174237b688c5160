package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	publicURL   string
	log         log.Logger
}

// NewAuthHandlers creates new auth handlers. publicURL, when set, replaces
// the scheme and host of challenge callbacks.
func NewAuthHandlers(authService *service.AuthService, publicURL string, logger log.Logger) *AuthHandlers {
	if logger == nil {
		logger = log.New("module", "http")
	}
	return &AuthHandlers{
		authService: authService,
		publicURL:   strings.TrimSuffix(publicURL, "/"),
		log:         logger,
	}
}

type credentialsRequest struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

func (r credentialsRequest) credentials(caller core.Caller) service.Credentials {
	return service.Credentials{
		Address:   strings.TrimSpace(r.Address),
		Network:   core.Network(strings.ToLower(strings.TrimSpace(r.Network))),
		Challenge: strings.TrimSpace(r.Challenge),
		Signature: strings.TrimSpace(r.Signature),
		Caller:    caller,
	}
}

// Challenge issues a challenge bound to the requested endpoint
func (h *AuthHandlers) Challenge(c *gin.Context) {
	issued, err := h.authService.IssueChallenge(c.Request.Context(), h.issuerURI(c))
	if err != nil {
		h.log.Error("Failed to issue challenge", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, issued)
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	tokens, err := h.authService.Login(c.Request.Context(), req.credentials(h.caller(c)))
	if err != nil {
		h.redeemFailed(c, err, false)
		return
	}

	c.JSON(http.StatusOK, tokenBody(tokens))
}

// Signup creates an account for the signing address
func (h *AuthHandlers) Signup(c *gin.Context) {
	var req struct {
		credentialsRequest
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	account, tokens, err := h.authService.Signup(c.Request.Context(), service.SignupRequest{
		Credentials: req.credentials(h.caller(c)),
		Username:    strings.TrimSpace(req.Username),
	})
	if err != nil {
		h.redeemFailed(c, err, true)
		return
	}

	body := tokenBody(tokens)
	body["account"] = gin.H{"id": account.ID, "username": account.Username}
	c.JSON(http.StatusCreated, body)
}

func (h *AuthHandlers) redeemFailed(c *gin.Context, err error, signup bool) {
	status, body := redeemFailure(err, signup)
	if status == http.StatusInternalServerError {
		h.log.Error("Challenge redemption failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, body)
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to refresh tokens"

		switch {
		case errors.Is(err, core.ErrTokenExpired):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token expired"
		case errors.Is(err, core.ErrTokenInvalidated):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token has been invalidated"
		case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrAccountNotFound):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid refresh token"
		default:
			h.log.Error("Failed to refresh tokens", "err", err)
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, tokenBody(tokens))
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return
	}

	err := h.authService.Logout(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			// an expired token cannot be used anyway
			c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
		case errors.Is(err, core.ErrInvalidToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh token"})
		default:
			h.log.Error("Failed to logout", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the account behind the access token
func (h *AuthHandlers) Me(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
		return
	}

	account, err := h.authService.Account(c.Request.Context(), session)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		h.log.Error("Failed to load account", "account", session.AccountID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": account.ID,
		"username":   account.Username,
		"address":    session.Address,
		"network":    session.Network,
	})
}

// Authorize confirms the access token is valid. The middleware did the work.
func (h *AuthHandlers) Authorize(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorized": true,
		"account_id": session.AccountID,
		"address":    session.Address,
	})
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func tokenBody(tokens *service.Tokens) gin.H {
	return gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(tokens.ExpiresIn.Seconds()),
	}
}

func (h *AuthHandlers) caller(c *gin.Context) core.Caller {
	return core.Caller{IssuerURI: h.issuerURI(c), RemoteIP: c.ClientIP()}
}

// issuerURI is the absolute URI of the current endpoint, which is where
// BitID wallets send the signed challenge back to
func (h *AuthHandlers) issuerURI(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL + c.Request.URL.Path
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}
