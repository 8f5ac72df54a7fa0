package signals

import (
	"context"
	"errors"
	"fmt"

	"tv-trading-bot/internal/database"
)

var (
	ErrPendingNotFound = errors.New("pending order not found")
	ErrPendingNotOpen  = errors.New("pending order is not awaiting approval")
	ErrPendingBotGone  = errors.New("bot behind pending order no longer exists")
)

// ApproveAndExecute transitions a pending order to APPROVED and executes
// it. Execution failure leaves the order FAILED with the error recorded;
// success marks it EXECUTED with the resulting position when one opened.
func (p *Processor) ApproveAndExecute(ctx context.Context, id int64) (*database.Position, error) {
	pending, err := p.store.GetPendingOrderByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending order %d: %w", id, err)
	}
	if pending == nil {
		return nil, ErrPendingNotFound
	}

	approved, err := p.store.ApprovePendingOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to approve pending order %d: %w", id, err)
	}
	if !approved {
		return nil, ErrPendingNotOpen
	}

	bot, err := p.store.GetBotConfigByID(ctx, pending.BotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bot %d: %w", pending.BotID, err)
	}
	if bot == nil {
		p.failPending(ctx, id, "bot config deleted")
		return nil, ErrPendingBotGone
	}

	pos, execErr := p.executePending(ctx, bot, pending)
	if execErr != nil {
		p.failPending(ctx, id, execErr.Error())
		return nil, fmt.Errorf("pending order %d execution failed: %w", id, execErr)
	}

	var posID *int64
	if pos != nil {
		posID = &pos.ID
	}
	if err := p.store.MarkPendingOrderExecuted(ctx, id, posID); err != nil {
		p.logger.Error().Err(err).Int64("pending_order_id", id).Msg("failed to mark pending order executed")
	}

	p.logger.Info().Int64("pending_order_id", id).Str("bot", bot.Name).Msg("pending order executed")
	return pos, nil
}

// executePending replays the queued signal through the auto-mode path
func (p *Processor) executePending(ctx context.Context, bot *database.BotConfig, pending *database.PendingOrder) (*database.Position, error) {
	log := &database.TVSignalLog{ID: pending.TVSignalLogID, Symbol: pending.Symbol, Side: pending.Side}

	if pending.IsPositionBased {
		if pending.PositionSize == nil {
			return nil, fmt.Errorf("position-based pending order carries no target")
		}
		if _, err := p.executor.ApplyTargetPosition(ctx, bot, log, *pending.PositionSize); err != nil {
			return nil, err
		}
		return p.store.GetOpenPositionByBotAndSymbol(ctx, bot.ID, pending.Symbol)
	}

	side := pending.Side
	if pending.CalculatedSide != nil {
		side = *pending.CalculatedSide
	}

	if side == sideExit {
		pos, err := p.store.GetOpenPositionByBotAndSymbol(ctx, bot.ID, pending.Symbol)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			return nil, nil
		}
		return nil, p.executor.ClosePosition(ctx, pos, database.ExitReasonTVExit)
	}

	qty := 0.0
	if pending.CalculatedQty != nil {
		qty = *pending.CalculatedQty
	} else {
		q, err := p.executor.QuantityForBot(bot, pending.Qty)
		if err != nil {
			return nil, err
		}
		qty = q
	}
	return p.executor.OpenPosition(ctx, bot, log, side, qty)
}

func (p *Processor) failPending(ctx context.Context, id int64, msg string) {
	if err := p.store.MarkPendingOrderFailed(ctx, id, msg); err != nil {
		p.logger.Error().Err(err).Int64("pending_order_id", id).Msg("failed to mark pending order failed")
	}
}
