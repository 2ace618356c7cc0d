package polymarket

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"polyarb/internal/domain"
)

// DryRunGateway is an OrderGateway that fills every order instantly at the
// requested price without touching the exchange. Used when execution.dry_run
// is set so the full detect-execute path can run against live market data.
type DryRunGateway struct {
	logger *slog.Logger
}

// NewDryRunGateway creates a simulated gateway.
func NewDryRunGateway(logger *slog.Logger) *DryRunGateway {
	return &DryRunGateway{logger: logger.With("component", "dryrun_gateway")}
}

// PlaceOrder logs the would-be submission and reports a complete fill.
func (g *DryRunGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	orderID := "dryrun-" + uuid.NewString()
	g.logger.Info("simulated order fill",
		"order_id", orderID,
		"market_id", req.MarketID,
		"token_id", req.TokenID,
		"side", req.Side,
		"price", req.Price,
		"size", req.Size,
		"notional", req.Notional(),
	)
	return domain.OrderResult{
		OrderID:     orderID,
		Status:      domain.OrderStatusFilled,
		FilledSize:  req.Size,
		FilledPrice: req.Price,
	}, nil
}

// CancelOrder is a no-op; simulated orders never rest.
func (g *DryRunGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.logger.Info("simulated cancel", "order_id", orderID)
	return nil
}
