package http

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"

	"github.com/layer-3/cryptolock/internal/metrics"
	"github.com/layer-3/cryptolock/service"
)

// RouterConfig wires the router
type RouterConfig struct {
	AuthService *service.AuthService
	Metrics     *metrics.Metrics // optional; enables /metrics
	PublicURL   string
	Logger      log.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("module", "http")
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	handlers := NewAuthHandlers(cfg.AuthService, cfg.PublicURL, logger)

	// Challenges are issued and redeemed on the same path
	auth := router.Group("/auth")
	{
		auth.GET("/login", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.GET("/signup", handlers.Challenge)
		auth.POST("/signup", handlers.Signup)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(cfg.AuthService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
	}

	router.GET("/healthz", handlers.Health)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	return router
}
