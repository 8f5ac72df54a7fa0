package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const pendingOrderColumns = `id, bot_id, tv_signal_log_id, symbol, side, qty, position_size,
	       calculated_qty, calculated_side, is_position_based, status,
	       approved_at, rejected_at, executed_at, error_message, position_id, created_at`

func scanPendingOrder(row pgx.Row) (*PendingOrder, error) {
	o := &PendingOrder{}
	err := row.Scan(
		&o.ID, &o.BotID, &o.TVSignalLogID, &o.Symbol, &o.Side, &o.Qty, &o.PositionSize,
		&o.CalculatedQty, &o.CalculatedSide, &o.IsPositionBased, &o.Status,
		&o.ApprovedAt, &o.RejectedAt, &o.ExecutedAt, &o.ErrorMessage, &o.PositionID, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreatePendingOrder inserts a new pending order awaiting approval
func (db *DB) CreatePendingOrder(ctx context.Context, o *PendingOrder) error {
	if o.Status == "" {
		o.Status = PendingOrderStatusPending
	}
	query := `
		INSERT INTO pending_orders (bot_id, tv_signal_log_id, symbol, side, qty, position_size,
			calculated_qty, calculated_side, is_position_based, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := db.Pool.QueryRow(
		ctx, query,
		o.BotID, o.TVSignalLogID, o.Symbol, o.Side, o.Qty, o.PositionSize,
		o.CalculatedQty, o.CalculatedSide, o.IsPositionBased, o.Status,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending order: %w", err)
	}
	return nil
}

// GetPendingOrderByID retrieves a pending order by ID; nil when not found
func (db *DB) GetPendingOrderByID(ctx context.Context, id int64) (*PendingOrder, error) {
	query := `SELECT ` + pendingOrderColumns + ` FROM pending_orders WHERE id = $1`
	o, err := scanPendingOrder(db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending order %d: %w", id, err)
	}
	return o, nil
}

// ListPendingOrders retrieves pending orders filtered by status; empty status means all
func (db *DB) ListPendingOrders(ctx context.Context, status string, limit int) ([]*PendingOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		query := `SELECT ` + pendingOrderColumns + ` FROM pending_orders ORDER BY id DESC LIMIT $1`
		rows, err = db.Pool.Query(ctx, query, limit)
	} else {
		query := `SELECT ` + pendingOrderColumns + ` FROM pending_orders WHERE status = $1 ORDER BY id DESC LIMIT $2`
		rows, err = db.Pool.Query(ctx, query, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*PendingOrder
	for rows.Next() {
		o, err := scanPendingOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ApprovePendingOrder transitions PENDING to APPROVED; false when already decided
func (db *DB) ApprovePendingOrder(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE pending_orders SET status = 'APPROVED', approved_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`
	tag, err := db.Pool.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to approve pending order %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RejectPendingOrder transitions PENDING to REJECTED; false when already decided
func (db *DB) RejectPendingOrder(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE pending_orders SET status = 'REJECTED', rejected_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`
	tag, err := db.Pool.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to reject pending order %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPendingOrderExecuted records successful execution and the resulting position
func (db *DB) MarkPendingOrderExecuted(ctx context.Context, id int64, positionID *int64) error {
	query := `
		UPDATE pending_orders SET status = 'EXECUTED', executed_at = $2, position_id = $3
		WHERE id = $1
	`
	if _, err := db.Pool.Exec(ctx, query, id, time.Now().UTC(), positionID); err != nil {
		return fmt.Errorf("failed to mark pending order executed: %w", err)
	}
	return nil
}

// MarkPendingOrderFailed records an execution failure
func (db *DB) MarkPendingOrderFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE pending_orders SET status = 'FAILED', executed_at = $2, error_message = $3
		WHERE id = $1
	`
	if _, err := db.Pool.Exec(ctx, query, id, time.Now().UTC(), errMsg); err != nil {
		return fmt.Errorf("failed to mark pending order failed: %w", err)
	}
	return nil
}
