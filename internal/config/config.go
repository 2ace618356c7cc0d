// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYARB_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Stream     StreamConfig     `toml:"stream"`
	Trading    TradingConfig    `toml:"trading"`
	Execution  ExecutionConfig  `toml:"execution"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Metrics    MetricsConfig    `toml:"metrics"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the signing key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	FunderAddress    string `toml:"funder_address"`
}

// PolymarketConfig holds API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// DiscoveryConfig controls the market registry's polling of the Gamma API.
type DiscoveryConfig struct {
	EventSlug          string `toml:"event_slug"`
	MarketLimit        int    `toml:"market_limit"`
	MaxMarkets         int    `toml:"max_markets"`
	RefreshIntervalSec int    `toml:"refresh_interval_sec"`
}

// StreamConfig controls the market-data websocket connections.
type StreamConfig struct {
	TokensPerConn    int     `toml:"tokens_per_conn"`
	InitialBackoffMs int     `toml:"initial_backoff_ms"`
	MaxBackoffMs     int     `toml:"max_backoff_ms"`
	BackoffJitter    float64 `toml:"backoff_jitter"`
	PongTimeoutSec   int     `toml:"pong_timeout_sec"`
}

// TradingConfig holds the detection thresholds and sizing parameters.
type TradingConfig struct {
	MinProfitMargin     float64 `toml:"min_profit_margin"`
	FeeBuffer           float64 `toml:"fee_buffer"`
	MaxPositionFraction float64 `toml:"max_position_fraction"`
	Bankroll            float64 `toml:"bankroll"`
	MinOrderSize        float64 `toml:"min_order_size"`
}

// ExecutionConfig controls order submission, retry, and unwind behavior.
type ExecutionConfig struct {
	RetryAttempts    int     `toml:"retry_attempts"`
	RetryBackoffMs   int     `toml:"retry_backoff_ms"`
	FillTimeoutMs    int     `toml:"fill_timeout_ms"`
	UnwindSlippage   float64 `toml:"unwind_slippage"`
	OrderRateLimit   int     `toml:"order_rate_limit"`
	OrderRateWindowS int     `toml:"order_rate_window_sec"`
	DryRun           bool    `toml:"dry_run"`
}

// PostgresConfig holds the optional position-snapshot database. Persistence
// is disabled when DSN is empty.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"pool_max_conns"`
	MinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds the optional price mirror / shared rate limiter backend.
// Both are disabled when Addr is empty.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Defaults returns a Config pre-populated with production endpoints and the
// conservative trading parameters the bot originally shipped with.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Discovery: DiscoveryConfig{
			MarketLimit:        50,
			MaxMarkets:         25,
			RefreshIntervalSec: 60,
		},
		Stream: StreamConfig{
			TokensPerConn:    100,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
			BackoffJitter:    0.2,
			PongTimeoutSec:   30,
		},
		Trading: TradingConfig{
			MinProfitMargin:     0.02,
			FeeBuffer:           0.002,
			MaxPositionFraction: 0.05,
			Bankroll:            100,
			MinOrderSize:        5,
		},
		Execution: ExecutionConfig{
			RetryAttempts:    5,
			RetryBackoffMs:   1000,
			FillTimeoutMs:    5000,
			UnwindSlippage:   0.02,
			OrderRateLimit:   10,
			OrderRateWindowS: 1,
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
			MinConns: 1,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values that would make the bot
// misbehave at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Polymarket.WsHost == "" {
		return fmt.Errorf("config: polymarket.ws_host is required")
	}
	if c.Polymarket.GammaHost == "" {
		return fmt.Errorf("config: polymarket.gamma_host is required")
	}
	if c.Polymarket.ClobHost == "" {
		return fmt.Errorf("config: polymarket.clob_host is required")
	}
	if !c.Execution.DryRun && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		return fmt.Errorf("config: wallet.private_key or wallet.encrypted_key_path is required for live trading")
	}
	if c.Trading.MinProfitMargin <= 0 || c.Trading.MinProfitMargin >= 1 {
		return fmt.Errorf("config: trading.min_profit_margin must be in (0, 1), got %v", c.Trading.MinProfitMargin)
	}
	if c.Trading.FeeBuffer < 0 {
		return fmt.Errorf("config: trading.fee_buffer must not be negative")
	}
	if c.Trading.MaxPositionFraction <= 0 || c.Trading.MaxPositionFraction > 1 {
		return fmt.Errorf("config: trading.max_position_fraction must be in (0, 1], got %v", c.Trading.MaxPositionFraction)
	}
	if c.Trading.Bankroll <= 0 {
		return fmt.Errorf("config: trading.bankroll must be positive")
	}
	if c.Discovery.MaxMarkets <= 0 {
		return fmt.Errorf("config: discovery.max_markets must be positive")
	}
	if c.Stream.TokensPerConn <= 0 {
		return fmt.Errorf("config: stream.tokens_per_conn must be positive")
	}
	if c.Execution.RetryAttempts < 1 {
		return fmt.Errorf("config: execution.retry_attempts must be at least 1")
	}
	if c.Execution.UnwindSlippage < 0 || c.Execution.UnwindSlippage >= 1 {
		return fmt.Errorf("config: execution.unwind_slippage must be in [0, 1), got %v", c.Execution.UnwindSlippage)
	}
	if c.Execution.OrderRateLimit <= 0 {
		return fmt.Errorf("config: execution.order_rate_limit must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// RefreshInterval returns the registry polling interval as a Duration.
func (c DiscoveryConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// FillTimeout returns the bounded partial-fill wait as a Duration.
func (c ExecutionConfig) FillTimeout() time.Duration {
	return time.Duration(c.FillTimeoutMs) * time.Millisecond
}

// OrderRateWindow returns the submission rate-limit window as a Duration.
func (c ExecutionConfig) OrderRateWindow() time.Duration {
	return time.Duration(c.OrderRateWindowS) * time.Second
}
