// Package config loads and validates service config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Challenge backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

var knownNetworks = []string{"bitcoin", "monero", "ethereum"}

// Config holds service configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :9000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// PublicURL overrides the scheme and host challenges point back at. Empty means derive from the request.
	PublicURL string `mapstructure:"PUBLIC_URL"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	// LogFormat is terminal or json.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// DatabaseURL is the Postgres DSN for accounts and addresses. Empty keeps them in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL backs the token store, the redis challenge backend and events.
	RedisURL string `mapstructure:"REDIS_URL"`

	// ChallengeBackend is postgres, redis or memory.
	ChallengeBackend    string `mapstructure:"CHALLENGE_BACKEND"`
	ChallengeTTLMinutes int    `mapstructure:"CHALLENGE_TTL_MINUTES"`
	// ChallengeBytes is the entropy of a challenge nonce.
	ChallengeBytes int `mapstructure:"CHALLENGE_BYTES"`
	// SweepInterval enables periodic removal of expired challenges. Zero disables it.
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// Networks is the ordered, comma-separated list of enabled networks.
	Networks     string `mapstructure:"NETWORKS"`
	BitcoinChain string `mapstructure:"BITCOIN_CHAIN"`
	MoneroChain  string `mapstructure:"MONERO_CHAIN"`

	MoneroWalletRPCProtocol string `mapstructure:"MONERO_WALLET_RPC_PROTOCOL"`
	MoneroWalletRPCHost     string `mapstructure:"MONERO_WALLET_RPC_HOST"`
	MoneroWalletRPCUser     string `mapstructure:"MONERO_WALLET_RPC_USER"`
	MoneroWalletRPCPass     string `mapstructure:"MONERO_WALLET_RPC_PASS"`

	// VerifyTimeout bounds a single signature verification.
	VerifyTimeout time.Duration `mapstructure:"VERIFY_TIMEOUT"`

	// JWTPrivateKey is a PEM-encoded ECDSA P-256 key or a path to one. Empty generates an ephemeral key.
	JWTPrivateKey string        `mapstructure:"JWT_PRIVATE_KEY"`
	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`

	EventsEnabled bool `mapstructure:"EVENTS_ENABLED"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore missing .env

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":9000")
	v.SetDefault("PUBLIC_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "terminal")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CHALLENGE_BACKEND", BackendPostgres)
	v.SetDefault("CHALLENGE_TTL_MINUTES", 10)
	v.SetDefault("CHALLENGE_BYTES", 16)
	v.SetDefault("SWEEP_INTERVAL", "0s")
	v.SetDefault("NETWORKS", "bitcoin,monero")
	v.SetDefault("BITCOIN_CHAIN", "mainnet")
	v.SetDefault("MONERO_CHAIN", "mainnet")
	v.SetDefault("MONERO_WALLET_RPC_PROTOCOL", "http")
	v.SetDefault("MONERO_WALLET_RPC_HOST", "localhost:18082")
	v.SetDefault("MONERO_WALLET_RPC_USER", "")
	v.SetDefault("MONERO_WALLET_RPC_PASS", "")
	v.SetDefault("VERIFY_TIMEOUT", "10s")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ACCESS_TTL", "5m")
	v.SetDefault("JWT_REFRESH_TTL", "120h")
	v.SetDefault("EVENTS_ENABLED", true)
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("config: PUBLIC_URL must be an absolute http(s) URL")
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "terminal" && c.LogFormat != "json" {
		return errors.New("config: LOG_FORMAT must be terminal or json")
	}

	switch c.ChallengeBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when CHALLENGE_BACKEND=postgres")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL is required when CHALLENGE_BACKEND=redis")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown CHALLENGE_BACKEND %q", c.ChallengeBackend)
	}
	if c.ChallengeTTLMinutes <= 0 {
		return errors.New("config: CHALLENGE_TTL_MINUTES must be positive")
	}
	if c.ChallengeBytes < 8 || c.ChallengeBytes > 64 {
		return errors.New("config: CHALLENGE_BYTES must be between 8 and 64")
	}
	if c.SweepInterval < 0 {
		return errors.New("config: SWEEP_INTERVAL must not be negative")
	}

	networks := c.NetworkList()
	if len(networks) == 0 {
		return errors.New("config: NETWORKS must name at least one network")
	}
	for i, n := range networks {
		if !slices.Contains(knownNetworks, n) {
			return fmt.Errorf("config: unknown network %q", n)
		}
		if slices.Contains(networks[:i], n) {
			return fmt.Errorf("config: network %q listed twice", n)
		}
	}
	if slices.Contains(networks, "monero") && c.MoneroWalletRPCHost == "" {
		return errors.New("config: MONERO_WALLET_RPC_HOST is required when monero is enabled")
	}

	if c.VerifyTimeout <= 0 {
		return errors.New("config: VERIFY_TIMEOUT must be positive")
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.EventsEnabled && c.RedisURL == "" {
		return errors.New("config: REDIS_URL is required when EVENTS_ENABLED=true")
	}
	return nil
}

// ChallengeTTL returns the challenge lifetime
func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLMinutes) * time.Minute
}

// NetworkList returns enabled networks from the comma-separated config, in order.
func (c *Config) NetworkList() []string {
	if c == nil || c.Networks == "" {
		return nil
	}
	parts := strings.Split(c.Networks, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SlogLevel parses LogLevel
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// NeedsRedis reports whether any configured component talks to redis.
// Without redis, refresh token invalidation is kept in process memory.
func (c *Config) NeedsRedis() bool {
	return c.ChallengeBackend == BackendRedis || c.EventsEnabled
}
