package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/cryptolock/adapters/events"
	"github.com/layer-3/cryptolock/adapters/registry"
	"github.com/layer-3/cryptolock/adapters/store"
	"github.com/layer-3/cryptolock/adapters/tokenizer"
	"github.com/layer-3/cryptolock/adapters/verifier"
	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/internal/config"
	"github.com/layer-3/cryptolock/internal/db"
	"github.com/layer-3/cryptolock/internal/metrics"
	"github.com/layer-3/cryptolock/ports"
	"github.com/layer-3/cryptolock/service"
	transport "github.com/layer-3/cryptolock/transport/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Crit("Failed to load config", "err", err)
	}
	if err := setupLogger(cfg); err != nil {
		log.Crit("Failed to set up logging", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Crit("Server stopped", "err", err)
	}
	log.Info("Server stopped")
}

func setupLogger(cfg *config.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = log.JSONHandlerWithLevel(os.Stderr, level)
	} else {
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, level, true)
	}
	log.SetDefault(log.NewLogger(handler))
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.New("module", "main")
	clk := clock.New()

	var conn *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		if conn, err = db.Open(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer conn.Close()
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	challengeCfg := store.ChallengeConfig{TTL: cfg.ChallengeTTL(), Bytes: cfg.ChallengeBytes, Clock: clk}
	var challenges ports.ChallengeStore
	switch cfg.ChallengeBackend {
	case config.BackendPostgres:
		challenges = store.NewPostgresChallengeStore(conn, challengeCfg)
	case config.BackendRedis:
		challenges = store.NewRedisChallengeStore(redisClient, challengeCfg)
	default:
		logger.Warn("Challenges are kept in memory and do not survive a restart")
		challenges = store.NewMemoryChallengeStore(challengeCfg)
	}

	var accounts ports.AccountRepository
	if conn != nil {
		accounts = registry.NewPostgresRepository(conn)
	} else {
		logger.Warn("DATABASE_URL is not set, accounts are kept in memory")
		accounts = registry.NewMemoryRepository()
	}

	var tokenStore ports.Store
	if redisClient != nil {
		tokenStore = store.NewRedisStore(redisClient)
	} else {
		tokenStore = store.NewMemoryStore(clk)
	}

	verifiers, err := newVerifiers(cfg)
	if err != nil {
		return err
	}

	signKey, generated, err := cfg.SigningKey()
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if generated {
		logger.Warn("JWT_PRIVATE_KEY is not set, sessions will not survive a restart")
	}

	var eventPub ports.EventPublisher = events.NopPublisher{}
	if cfg.EventsEnabled {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher)
	}

	m := metrics.New()
	authService := service.NewAuthService(service.Dependencies{
		Challenges: challenges,
		Registry:   service.NewAddressRegistry(accounts, verifiers, clk),
		Verifiers:  verifiers,
		Tokenizer:  tokenizer.NewJWTTokenizer(signKey, clk),
		Store:      tokenStore,
		Events:     eventPub,
		Metrics:    m,
		Clock:      clk,
		Logger:     log.New("module", "auth"),
	}, service.Config{
		VerifyTimeout: cfg.VerifyTimeout,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
	})

	gin.SetMode(gin.ReleaseMode)
	router := transport.SetupRouter(transport.RouterConfig{
		AuthService: authService,
		Metrics:     m,
		PublicURL:   cfg.PublicURL,
		Logger:      log.New("module", "http"),
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening", "addr", cfg.HTTPAddr, "networks", cfg.Networks, "challenges", cfg.ChallengeBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			return authService.RunSweeper(ctx, cfg.SweepInterval)
		})
	}
	return g.Wait()
}

// newVerifiers registers a verifier for every enabled network, in configured order
func newVerifiers(cfg *config.Config) (*verifier.Registry, error) {
	verifiers := verifier.NewRegistry()
	for _, network := range cfg.NetworkList() {
		var v ports.Verifier
		switch core.Network(network) {
		case core.NetworkBitcoin:
			b, err := verifier.NewBitcoin(verifier.BitcoinChain(cfg.BitcoinChain))
			if err != nil {
				return nil, fmt.Errorf("bitcoin verifier: %w", err)
			}
			v = b
		case core.NetworkMonero:
			m, err := verifier.NewMonero(verifier.MoneroConfig{
				Chain:    verifier.MoneroChain(cfg.MoneroChain),
				Protocol: cfg.MoneroWalletRPCProtocol,
				Host:     cfg.MoneroWalletRPCHost,
				User:     cfg.MoneroWalletRPCUser,
				Password: cfg.MoneroWalletRPCPass,
				Timeout:  cfg.VerifyTimeout,
			})
			if err != nil {
				return nil, fmt.Errorf("monero verifier: %w", err)
			}
			v = m
		case core.NetworkEthereum:
			v = verifier.NewEthereum()
		default:
			return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedNetwork, network)
		}
		verifiers.Register(core.Network(network), v)
	}
	return verifiers, nil
}
