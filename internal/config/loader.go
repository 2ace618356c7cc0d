package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// path may be empty, in which case only defaults and environment overrides
// apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "POLYARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYARB_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.FunderAddress, "POLYARB_WALLET_FUNDER_ADDRESS")

	setStr(&cfg.Polymarket.ClobHost, "POLYARB_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYARB_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYARB_CHAIN_ID")
	setStr(&cfg.Polymarket.ApiKey, "POLYARB_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYARB_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYARB_API_PASSPHRASE")

	setStr(&cfg.Discovery.EventSlug, "POLYARB_EVENT_SLUG")
	setInt(&cfg.Discovery.MarketLimit, "POLYARB_MARKET_LIMIT")
	setInt(&cfg.Discovery.MaxMarkets, "POLYARB_MAX_MARKETS")
	setInt(&cfg.Discovery.RefreshIntervalSec, "POLYARB_REFRESH_INTERVAL_SEC")

	setInt(&cfg.Stream.TokensPerConn, "POLYARB_TOKENS_PER_CONN")
	setInt(&cfg.Stream.InitialBackoffMs, "POLYARB_INITIAL_BACKOFF_MS")
	setInt(&cfg.Stream.MaxBackoffMs, "POLYARB_MAX_BACKOFF_MS")

	setFloat64(&cfg.Trading.MinProfitMargin, "POLYARB_MIN_PROFIT_MARGIN")
	setFloat64(&cfg.Trading.FeeBuffer, "POLYARB_FEE_BUFFER")
	setFloat64(&cfg.Trading.MaxPositionFraction, "POLYARB_MAX_POSITION_FRACTION")
	setFloat64(&cfg.Trading.Bankroll, "POLYARB_BANKROLL")
	setFloat64(&cfg.Trading.MinOrderSize, "POLYARB_MIN_ORDER_SIZE")

	setInt(&cfg.Execution.RetryAttempts, "POLYARB_RETRY_ATTEMPTS")
	setInt(&cfg.Execution.RetryBackoffMs, "POLYARB_RETRY_BACKOFF_MS")
	setInt(&cfg.Execution.FillTimeoutMs, "POLYARB_FILL_TIMEOUT_MS")
	setFloat64(&cfg.Execution.UnwindSlippage, "POLYARB_UNWIND_SLIPPAGE")
	setInt(&cfg.Execution.OrderRateLimit, "POLYARB_ORDER_RATE_LIMIT")
	setBool(&cfg.Execution.DryRun, "POLYARB_DRY_RUN")

	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")

	setStr(&cfg.Metrics.ListenAddr, "POLYARB_METRICS_ADDR")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
