package database

import (
	"context"
	"fmt"
	"time"
)

// GetPortfolioConfig returns the singleton portfolio trailing config,
// inserting the default row when it does not exist yet.
func (db *DB) GetPortfolioConfig(ctx context.Context) (*PortfolioTrailingConfig, error) {
	query := `
		INSERT INTO portfolio_trailing_config (id, enabled)
		VALUES (1, FALSE)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := db.Pool.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to ensure portfolio config: %w", err)
	}

	c := &PortfolioTrailingConfig{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, enabled, target_pnl, lock_ratio, created_at, updated_at
		FROM portfolio_trailing_config WHERE id = 1
	`).Scan(&c.ID, &c.Enabled, &c.TargetPnl, &c.LockRatio, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio config: %w", err)
	}
	return c, nil
}

// UpdatePortfolioConfig persists the singleton portfolio trailing config
func (db *DB) UpdatePortfolioConfig(ctx context.Context, c *PortfolioTrailingConfig) error {
	query := `
		UPDATE portfolio_trailing_config
		SET enabled = $1, target_pnl = $2, lock_ratio = $3, updated_at = $4
		WHERE id = 1
	`
	if _, err := db.Pool.Exec(ctx, query, c.Enabled, c.TargetPnl, c.LockRatio, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update portfolio config: %w", err)
	}
	return nil
}
