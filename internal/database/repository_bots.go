package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const botConfigColumns = `id, name, bot_key, enabled, signal_id, symbol, use_signal_side, fixed_side,
	       qty, max_invest_usdt, leverage, use_dynamic_stop, trailing_callback_percent,
	       base_stop_loss_pct, trading_mode, created_at, updated_at`

func scanBotConfig(row pgx.Row) (*BotConfig, error) {
	b := &BotConfig{}
	err := row.Scan(
		&b.ID, &b.Name, &b.BotKey, &b.Enabled, &b.SignalID, &b.Symbol, &b.UseSignalSide, &b.FixedSide,
		&b.Qty, &b.MaxInvestUSDT, &b.Leverage, &b.UseDynamicStop, &b.TrailingCallbackPercent,
		&b.BaseStopLossPct, &b.TradingMode, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBotConfig inserts a new bot config
func (db *DB) CreateBotConfig(ctx context.Context, b *BotConfig) error {
	if b.TradingMode == "" {
		b.TradingMode = TradingModeAuto
	}
	query := `
		INSERT INTO bot_configs (name, bot_key, enabled, signal_id, symbol, use_signal_side, fixed_side,
			qty, max_invest_usdt, leverage, use_dynamic_stop, trailing_callback_percent,
			base_stop_loss_pct, trading_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`
	err := db.Pool.QueryRow(
		ctx, query,
		b.Name, b.BotKey, b.Enabled, b.SignalID, b.Symbol, b.UseSignalSide, b.FixedSide,
		b.Qty, b.MaxInvestUSDT, b.Leverage, b.UseDynamicStop, b.TrailingCallbackPercent,
		b.BaseStopLossPct, b.TradingMode,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bot config: %w", err)
	}
	return nil
}

// GetBotConfigByID retrieves a bot config by ID; nil when not found
func (db *DB) GetBotConfigByID(ctx context.Context, id int64) (*BotConfig, error) {
	query := `SELECT ` + botConfigColumns + ` FROM bot_configs WHERE id = $1`
	b, err := scanBotConfig(db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config %d: %w", id, err)
	}
	return b, nil
}

// GetBotConfigByKey retrieves a bot config by its legacy bot key; nil when not found
func (db *DB) GetBotConfigByKey(ctx context.Context, botKey string) (*BotConfig, error) {
	query := `SELECT ` + botConfigColumns + ` FROM bot_configs WHERE bot_key = $1`
	b, err := scanBotConfig(db.Pool.QueryRow(ctx, query, botKey))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config by key: %w", err)
	}
	return b, nil
}

// ListBotConfigs retrieves all bot configs
func (db *DB) ListBotConfigs(ctx context.Context) ([]*BotConfig, error) {
	query := `SELECT ` + botConfigColumns + ` FROM bot_configs ORDER BY id`
	return db.queryBotConfigs(ctx, query)
}

// ListEnabledBotsBySignalID retrieves the enabled bots bound to a signal
func (db *DB) ListEnabledBotsBySignalID(ctx context.Context, signalID int64) ([]*BotConfig, error) {
	query := `SELECT ` + botConfigColumns + ` FROM bot_configs
		WHERE signal_id = $1 AND enabled = TRUE ORDER BY id`
	return db.queryBotConfigs(ctx, query, signalID)
}

// UpdateBotConfig updates all mutable bot fields
func (db *DB) UpdateBotConfig(ctx context.Context, b *BotConfig) error {
	query := `
		UPDATE bot_configs
		SET name = $2, enabled = $3, signal_id = $4, symbol = $5, use_signal_side = $6,
		    fixed_side = $7, qty = $8, max_invest_usdt = $9, leverage = $10,
		    use_dynamic_stop = $11, trailing_callback_percent = $12, base_stop_loss_pct = $13,
		    trading_mode = $14, updated_at = $15
		WHERE id = $1
	`
	_, err := db.Pool.Exec(
		ctx, query,
		b.ID, b.Name, b.Enabled, b.SignalID, b.Symbol, b.UseSignalSide,
		b.FixedSide, b.Qty, b.MaxInvestUSDT, b.Leverage,
		b.UseDynamicStop, b.TrailingCallbackPercent, b.BaseStopLossPct,
		b.TradingMode, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update bot config %d: %w", b.ID, err)
	}
	return nil
}

// DeleteBotConfig removes a bot config
func (db *DB) DeleteBotConfig(ctx context.Context, id int64) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM bot_configs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete bot config %d: %w", id, err)
	}
	return nil
}

func (db *DB) queryBotConfigs(ctx context.Context, query string, args ...interface{}) ([]*BotConfig, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot configs: %w", err)
	}
	defer rows.Close()

	var bots []*BotConfig
	for rows.Next() {
		b, err := scanBotConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot config: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}
