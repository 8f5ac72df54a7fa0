package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const positionColumns = `id, symbol, side, qty, entry_price, status, binance_order_id, client_order_id,
	       bot_id, tv_signal_log_id, extreme_price, trail_callback, dyn_profit_threshold_pct,
	       base_stop_loss_pct, bot_stop_loss_enabled, tv_signal_close_enabled,
	       exit_price, exit_reason, closed_at, created_at`

func scanPosition(row pgx.Row) (*Position, error) {
	p := &Position{}
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.Status, &p.BinanceOrderID, &p.ClientOrderID,
		&p.BotID, &p.TVSignalLogID, &p.ExtremePrice, &p.TrailCallback, &p.DynProfitThresholdPct,
		&p.BaseStopLossPct, &p.BotStopLossEnabled, &p.TVSignalCloseEnabled,
		&p.ExitPrice, &p.ExitReason, &p.ClosedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePosition inserts a new position
func (db *DB) CreatePosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (symbol, side, qty, entry_price, status, binance_order_id, client_order_id,
			bot_id, tv_signal_log_id, extreme_price, trail_callback, dyn_profit_threshold_pct,
			base_stop_loss_pct, bot_stop_loss_enabled, tv_signal_close_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`
	err := db.Pool.QueryRow(
		ctx, query,
		p.Symbol, p.Side, p.Qty, p.EntryPrice, p.Status, p.BinanceOrderID, p.ClientOrderID,
		p.BotID, p.TVSignalLogID, p.ExtremePrice, p.TrailCallback, p.DynProfitThresholdPct,
		p.BaseStopLossPct, p.BotStopLossEnabled, p.TVSignalCloseEnabled,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// GetPositionByID retrieves a position by ID; returns nil when not found
func (db *DB) GetPositionByID(ctx context.Context, id int64) (*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`
	p, err := scanPosition(db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	return p, nil
}

// ListOpenPositions retrieves all OPEN positions, oldest first
func (db *DB) ListOpenPositions(ctx context.Context) ([]*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = 'OPEN' ORDER BY id`
	return db.queryPositions(ctx, query)
}

// ListOpenPositionsWithStopEnabled retrieves OPEN positions under automated stop management
func (db *DB) ListOpenPositionsWithStopEnabled(ctx context.Context) ([]*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE status = 'OPEN' AND bot_stop_loss_enabled = TRUE ORDER BY id`
	return db.queryPositions(ctx, query)
}

// ListPositions retrieves positions filtered by status; empty status means all
func (db *DB) ListPositions(ctx context.Context, status string, limit int) ([]*Position, error) {
	if limit <= 0 {
		limit = 100
	}
	if status == "" {
		query := `SELECT ` + positionColumns + ` FROM positions ORDER BY id DESC LIMIT $1`
		return db.queryPositions(ctx, query, limit)
	}
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = $1 ORDER BY id DESC LIMIT $2`
	return db.queryPositions(ctx, query, status, limit)
}

// GetOpenPositionByBotAndSymbol finds a bot's OPEN position for a symbol; nil when none
func (db *DB) GetOpenPositionByBotAndSymbol(ctx context.Context, botID int64, symbol string) (*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE status = 'OPEN' AND bot_id = $1 AND symbol = $2
		ORDER BY id DESC LIMIT 1`
	p, err := scanPosition(db.Pool.QueryRow(ctx, query, botID, symbol))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open position for bot %d %s: %w", botID, symbol, err)
	}
	return p, nil
}

// GetOpenPositionBySymbolSide finds an OPEN position by symbol and side; nil when none
func (db *DB) GetOpenPositionBySymbolSide(ctx context.Context, symbol, side string) (*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE status = 'OPEN' AND symbol = $1 AND side = $2
		ORDER BY id DESC LIMIT 1`
	p, err := scanPosition(db.Pool.QueryRow(ctx, query, symbol, side))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open position %s %s: %w", symbol, side, err)
	}
	return p, nil
}

// UpdatePositionExtreme advances the persisted favorable extreme
func (db *DB) UpdatePositionExtreme(ctx context.Context, id int64, extreme float64) error {
	query := `UPDATE positions SET extreme_price = $2 WHERE id = $1`
	if _, err := db.Pool.Exec(ctx, query, id, extreme); err != nil {
		return fmt.Errorf("failed to update position extreme: %w", err)
	}
	return nil
}

// UpdatePositionEntryPrice corrects a zero or missing entry price from exchange data
func (db *DB) UpdatePositionEntryPrice(ctx context.Context, id int64, entryPrice float64) error {
	query := `UPDATE positions SET entry_price = $2 WHERE id = $1`
	if _, err := db.Pool.Exec(ctx, query, id, entryPrice); err != nil {
		return fmt.Errorf("failed to update position entry price: %w", err)
	}
	return nil
}

// UpdatePositionQty adjusts quantity after a partial rebalance
func (db *DB) UpdatePositionQty(ctx context.Context, id int64, qty float64) error {
	query := `UPDATE positions SET qty = $2 WHERE id = $1`
	if _, err := db.Pool.Exec(ctx, query, id, qty); err != nil {
		return fmt.Errorf("failed to update position qty: %w", err)
	}
	return nil
}

// UpdatePositionStopConfig overrides per-position stop parameters.
// Nil pointers clear the override back to global settings.
func (db *DB) UpdatePositionStopConfig(ctx context.Context, id int64, trailCallback, profitThreshold, baseStopLossPct *float64, stopEnabled bool) error {
	query := `
		UPDATE positions
		SET trail_callback = $2, dyn_profit_threshold_pct = $3, base_stop_loss_pct = $4, bot_stop_loss_enabled = $5
		WHERE id = $1
	`
	if _, err := db.Pool.Exec(ctx, query, id, trailCallback, profitThreshold, baseStopLossPct, stopEnabled); err != nil {
		return fmt.Errorf("failed to update position stop config: %w", err)
	}
	return nil
}

// ClosePosition transitions an OPEN position to CLOSED with exit facts.
// The status guard makes the transition idempotent under concurrent closers.
func (db *DB) ClosePosition(ctx context.Context, id int64, exitPrice float64, exitReason string) (bool, error) {
	query := `
		UPDATE positions
		SET status = 'CLOSED', exit_price = $2, exit_reason = $3, closed_at = $4
		WHERE id = $1 AND status = 'OPEN'
	`
	tag, err := db.Pool.Exec(ctx, query, id, exitPrice, exitReason, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to close position %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPositionError transitions an OPEN position to ERROR after an exchange failure
func (db *DB) MarkPositionError(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE positions
		SET status = 'ERROR', exit_reason = $2, closed_at = $3
		WHERE id = $1 AND status = 'OPEN'
	`
	if _, err := db.Pool.Exec(ctx, query, id, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark position %d error: %w", id, err)
	}
	return nil
}

// DeleteClosedPositionsBefore removes CLOSED positions older than the cutoff
func (db *DB) DeleteClosedPositionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM positions WHERE status = 'CLOSED' AND closed_at < $1`
	tag, err := db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteErrorPositions removes all ERROR positions
func (db *DB) DeleteErrorPositions(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM positions WHERE status = 'ERROR'`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete error positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (db *DB) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*Position, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
