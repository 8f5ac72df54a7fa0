package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const signalConfigColumns = `id, name, signal_key, description, symbol_hint, timeframe_hint, enabled, created_at, updated_at`

func scanSignalConfig(row pgx.Row) (*TVSignalConfig, error) {
	s := &TVSignalConfig{}
	err := row.Scan(
		&s.ID, &s.Name, &s.SignalKey, &s.Description, &s.SymbolHint, &s.TimeframeHint,
		&s.Enabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSignalConfig inserts a new signal config
func (db *DB) CreateSignalConfig(ctx context.Context, s *TVSignalConfig) error {
	query := `
		INSERT INTO tv_signal_configs (name, signal_key, description, symbol_hint, timeframe_hint, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := db.Pool.QueryRow(
		ctx, query,
		s.Name, s.SignalKey, s.Description, s.SymbolHint, s.TimeframeHint, s.Enabled,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create signal config: %w", err)
	}
	return nil
}

// GetSignalConfigByKey retrieves a signal config by its key; nil when not found
func (db *DB) GetSignalConfigByKey(ctx context.Context, signalKey string) (*TVSignalConfig, error) {
	query := `SELECT ` + signalConfigColumns + ` FROM tv_signal_configs WHERE signal_key = $1`
	s, err := scanSignalConfig(db.Pool.QueryRow(ctx, query, signalKey))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal config by key: %w", err)
	}
	return s, nil
}

// GetSignalConfigByID retrieves a signal config by ID; nil when not found
func (db *DB) GetSignalConfigByID(ctx context.Context, id int64) (*TVSignalConfig, error) {
	query := `SELECT ` + signalConfigColumns + ` FROM tv_signal_configs WHERE id = $1`
	s, err := scanSignalConfig(db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal config %d: %w", id, err)
	}
	return s, nil
}

// ListSignalConfigs retrieves all signal configs
func (db *DB) ListSignalConfigs(ctx context.Context) ([]*TVSignalConfig, error) {
	query := `SELECT ` + signalConfigColumns + ` FROM tv_signal_configs ORDER BY id`
	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal configs: %w", err)
	}
	defer rows.Close()

	var configs []*TVSignalConfig
	for rows.Next() {
		s, err := scanSignalConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal config: %w", err)
		}
		configs = append(configs, s)
	}
	return configs, rows.Err()
}

// UpdateSignalConfig updates a signal config
func (db *DB) UpdateSignalConfig(ctx context.Context, s *TVSignalConfig) error {
	query := `
		UPDATE tv_signal_configs
		SET name = $2, description = $3, symbol_hint = $4, timeframe_hint = $5, enabled = $6, updated_at = $7
		WHERE id = $1
	`
	_, err := db.Pool.Exec(
		ctx, query,
		s.ID, s.Name, s.Description, s.SymbolHint, s.TimeframeHint, s.Enabled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update signal config %d: %w", s.ID, err)
	}
	return nil
}

// DeleteSignalConfig removes a signal config
func (db *DB) DeleteSignalConfig(ctx context.Context, id int64) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM tv_signal_configs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete signal config %d: %w", id, err)
	}
	return nil
}

// CreateSignalLog persists a received webhook signal
func (db *DB) CreateSignalLog(ctx context.Context, l *TVSignalLog) error {
	query := `
		INSERT INTO tv_signal_logs (bot_key, signal_id, symbol, side, qty, position_size, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, received_at
	`
	err := db.Pool.QueryRow(
		ctx, query,
		l.BotKey, l.SignalID, l.Symbol, l.Side, l.Qty, l.PositionSize, l.RawPayload,
	).Scan(&l.ID, &l.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to create signal log: %w", err)
	}
	return nil
}

// MarkSignalLogProcessed records the processing outcome of a signal
func (db *DB) MarkSignalLogProcessed(ctx context.Context, id int64, result string) error {
	query := `UPDATE tv_signal_logs SET processed = TRUE, process_result = $2 WHERE id = $1`
	if _, err := db.Pool.Exec(ctx, query, id, result); err != nil {
		return fmt.Errorf("failed to mark signal log processed: %w", err)
	}
	return nil
}

// ListSignalLogs retrieves the most recent signal logs
func (db *DB) ListSignalLogs(ctx context.Context, limit int) ([]*TVSignalLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, bot_key, signal_id, symbol, side, qty, position_size, raw_payload, received_at, processed, process_result
		FROM tv_signal_logs
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal logs: %w", err)
	}
	defer rows.Close()

	var logs []*TVSignalLog
	for rows.Next() {
		l := &TVSignalLog{}
		err := rows.Scan(
			&l.ID, &l.BotKey, &l.SignalID, &l.Symbol, &l.Side, &l.Qty, &l.PositionSize,
			&l.RawPayload, &l.ReceivedAt, &l.Processed, &l.ProcessResult,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteSignalLogsBefore removes signal logs older than the cutoff
func (db *DB) DeleteSignalLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM tv_signal_logs WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete signal logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
