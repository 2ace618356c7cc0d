package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"polyarb/internal/domain"
)

// PositionStore implements domain.PositionStore. One row per market holds
// the current exposure snapshot; flat markets are deleted.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the current exposure for a market.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (market_id, yes_size, no_size, yes_avg_cost, no_avg_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id) DO UPDATE SET
			yes_size     = EXCLUDED.yes_size,
			no_size      = EXCLUDED.no_size,
			yes_avg_cost = EXCLUDED.yes_avg_cost,
			no_avg_cost  = EXCLUDED.no_avg_cost,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.YesSize, p.NoSize, p.YesAvgCost, p.NoAvgCost, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.MarketID, err)
	}
	return nil
}

// Delete removes a market's snapshot once the position is flat.
func (s *PositionStore) Delete(ctx context.Context, marketID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM positions WHERE market_id = $1", marketID); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", marketID, err)
	}
	return nil
}

// LoadAll returns every persisted position.
func (s *PositionStore) LoadAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, yes_size, no_size, yes_avg_cost, no_avg_cost, updated_at
		 FROM positions ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.MarketID, &p.YesSize, &p.NoSize, &p.YesAvgCost, &p.NoAvgCost, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
