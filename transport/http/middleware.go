package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/service"
)

const sessionKey = "session"

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgAuthorizationHeader})
			return
		}

		session, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			case errors.Is(err, core.ErrTokenInvalidated), errors.Is(err, core.ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
			}
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) (*core.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*core.Session)
	return session, ok
}

// RequestLogger logs every request once it has been served
func RequestLogger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ctx := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", time.Since(start),
			"ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Warn("HTTP request", ctx...)
		default:
			logger.Debug("HTTP request", ctx...)
		}
	}
}
