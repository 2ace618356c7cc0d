package app

import (
	"context"
	"fmt"
	"log/slog"

	"polyarb/internal/cache/redis"
	"polyarb/internal/config"
	"polyarb/internal/crypto"
	"polyarb/internal/domain"
	"polyarb/internal/metrics"
	"polyarb/internal/platform/polymarket"
	"polyarb/internal/store/postgres"
)

// Dependencies bundles everything the trading loop needs. Optional backends
// are nil when not configured.
type Dependencies struct {
	Gamma   *polymarket.GammaClient
	Gateway domain.OrderGateway
	Metrics *metrics.Metrics

	PositionStore domain.PositionStore // nil without Postgres
	PriceMirror   domain.PriceMirror   // nil without Redis
	RateLimiter   domain.RateLimiter   // nil without Redis
}

// Wire constructs the concrete dependency implementations and returns them
// with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Gamma:   polymarket.NewGammaClient(cfg.Polymarket.GammaHost),
		Metrics: metrics.New(),
	}

	// --- PostgreSQL (optional position persistence) ---
	if cfg.Postgres.DSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		deps.PositionStore = postgres.NewPositionStore(pgClient.Pool())
	}

	// --- Redis (optional price mirror and shared rate limiter) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceMirror = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Order gateway ---
	if cfg.Execution.DryRun {
		deps.Gateway = polymarket.NewDryRunGateway(logger)
		return deps, cleanup, nil
	}

	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	var hmac *crypto.HMACAuth
	if cfg.Polymarket.ApiKey != "" {
		hmac = &crypto.HMACAuth{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
	}

	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmac, cfg.Wallet.FunderAddress)
	if hmac == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
	}
	deps.Gateway = clob

	return deps, cleanup, nil
}
