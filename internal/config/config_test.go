package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Polymarket.ChainID != 137 {
		t.Errorf("chain_id = %d, want 137", cfg.Polymarket.ChainID)
	}
	if cfg.Trading.MinProfitMargin != 0.02 {
		t.Errorf("min_profit_margin = %v, want 0.02", cfg.Trading.MinProfitMargin)
	}
	if cfg.Trading.FeeBuffer != 0.002 {
		t.Errorf("fee_buffer = %v, want 0.002", cfg.Trading.FeeBuffer)
	}
	if cfg.Execution.RetryAttempts != 5 {
		t.Errorf("retry_attempts = %d, want 5", cfg.Execution.RetryAttempts)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[trading]
bankroll = 2500.0
min_profit_margin = 0.03

[execution]
dry_run = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Trading.Bankroll != 2500 {
		t.Errorf("bankroll = %v, want 2500", cfg.Trading.Bankroll)
	}
	if cfg.Trading.MinProfitMargin != 0.03 {
		t.Errorf("min_profit_margin = %v, want 0.03", cfg.Trading.MinProfitMargin)
	}
	if !cfg.Execution.DryRun {
		t.Error("dry_run not applied from file")
	}
	// Untouched sections keep defaults.
	if cfg.Discovery.MaxMarkets != 25 {
		t.Errorf("max_markets = %d, want default 25", cfg.Discovery.MaxMarkets)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[trading]
bankroll = 2500.0
`)
	t.Setenv("POLYARB_BANKROLL", "9000")
	t.Setenv("POLYARB_WALLET_PRIVATE_KEY", "deadbeef")
	t.Setenv("POLYARB_DRY_RUN", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.Bankroll != 9000 {
		t.Errorf("bankroll = %v, want env override 9000", cfg.Trading.Bankroll)
	}
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Errorf("private key = %q, want env value", cfg.Wallet.PrivateKey)
	}
	if !cfg.Execution.DryRun {
		t.Error("dry_run env override not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Execution.DryRun = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with dry_run", func(c *Config) {}, ""},
		{"live without key", func(c *Config) { c.Execution.DryRun = false }, "wallet.private_key"},
		{"live with key", func(c *Config) {
			c.Execution.DryRun = false
			c.Wallet.PrivateKey = "deadbeef"
		}, ""},
		{"zero margin", func(c *Config) { c.Trading.MinProfitMargin = 0 }, "min_profit_margin"},
		{"margin over one", func(c *Config) { c.Trading.MinProfitMargin = 1.5 }, "min_profit_margin"},
		{"negative fee buffer", func(c *Config) { c.Trading.FeeBuffer = -0.01 }, "fee_buffer"},
		{"zero position fraction", func(c *Config) { c.Trading.MaxPositionFraction = 0 }, "max_position_fraction"},
		{"zero bankroll", func(c *Config) { c.Trading.Bankroll = 0 }, "bankroll"},
		{"missing ws host", func(c *Config) { c.Polymarket.WsHost = "" }, "ws_host"},
		{"zero max markets", func(c *Config) { c.Discovery.MaxMarkets = 0 }, "max_markets"},
		{"zero retry attempts", func(c *Config) { c.Execution.RetryAttempts = 0 }, "retry_attempts"},
		{"unwind slippage at one", func(c *Config) { c.Execution.UnwindSlippage = 1 }, "unwind_slippage"},
		{"zero rate limit", func(c *Config) { c.Execution.OrderRateLimit = 0 }, "order_rate_limit"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	d := DiscoveryConfig{RefreshIntervalSec: 30}
	if got := d.RefreshInterval(); got != 30*time.Second {
		t.Errorf("RefreshInterval = %v, want 30s", got)
	}
	e := ExecutionConfig{FillTimeoutMs: 2500, OrderRateWindowS: 10}
	if got := e.FillTimeout(); got != 2500*time.Millisecond {
		t.Errorf("FillTimeout = %v, want 2.5s", got)
	}
	if got := e.OrderRateWindow(); got != 10*time.Second {
		t.Errorf("OrderRateWindow = %v, want 10s", got)
	}
}
