// Package app owns the application lifecycle: it wires the dependencies,
// starts the registry, stream, detector, and executor goroutines, and tears
// everything down in order on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/detector"
	"polyarb/internal/executor"
	"polyarb/internal/registry"
	"polyarb/internal/risk"
	"polyarb/internal/stream"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the trading loop, and blocks until the
// context is canceled. Cancellation drains in-flight executions before the
// process exits so no hedge is abandoned half-done.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.Bool("dry_run", a.cfg.Execution.DryRun),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	store := book.NewStore()
	reg := registry.New(deps.Gamma, a.cfg.Discovery, a.logger)
	streamClient := stream.NewClient(
		a.cfg.Polymarket.WsHost, a.cfg.Stream,
		reg, store, deps.PriceMirror, deps.Metrics, a.logger,
	)
	det := detector.New(a.cfg.Trading, store, reg, streamClient.Signals(), deps.Metrics, a.logger)
	tracker := risk.NewTracker(a.cfg.Trading, deps.PositionStore, deps.Metrics, a.logger)
	exec := executor.New(a.cfg.Execution, deps.Gateway, det, tracker, deps.RateLimiter, deps.Metrics, a.logger)

	if err := tracker.Load(ctx); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Run(ctx) })
	g.Go(func() error { return streamClient.Run(ctx) })
	g.Go(func() error { return det.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })
	g.Go(func() error { return deps.Metrics.Serve(ctx, a.cfg.Metrics.ListenAddr, a.logger) })

	err = g.Wait()

	for _, pos := range tracker.Positions() {
		a.logger.Info("open position at shutdown",
			"market_id", pos.MarketID,
			"yes_size", pos.YesSize,
			"no_size", pos.NoSize,
			"notional", pos.Notional(),
		)
	}
	return err
}

// Close tears down all resources in reverse registration order.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
