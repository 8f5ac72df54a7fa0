package trading

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/events"
	"tv-trading-bot/internal/orders"
	"tv-trading-bot/internal/risk"

	"github.com/rs/zerolog"
)

const (
	// qtyEpsilon bounds float comparison of position quantities
	qtyEpsilon = 1e-8

	// rebalanceThresholdPct is the size discrepancy, as a percentage of
	// the current position, below which reconciliation is a no-op
	rebalanceThresholdPct = 10.0

	// orderQueryDelay is the wait before re-querying an order whose fill
	// response came back without an average price
	orderQueryDelay = 300 * time.Millisecond

	// stepCacheTTL bounds how long LOT_SIZE steps are served from memory
	stepCacheTTL = time.Hour
)

// ReconcileAction describes what a position-based reconciliation did
type ReconcileAction string

const (
	ActionNone      ReconcileAction = "no_change"
	ActionOpened    ReconcileAction = "opened"
	ActionClosed    ReconcileAction = "closed"
	ActionReversed  ReconcileAction = "reversed"
	ActionRebalance ReconcileAction = "rebalanced"
	ActionSkipped   ReconcileAction = "skipped"
)

// Store is the persistence surface the lifecycle manager needs
type Store interface {
	CreatePosition(ctx context.Context, p *database.Position) error
	GetOpenPositionByBotAndSymbol(ctx context.Context, botID int64, symbol string) (*database.Position, error)
	GetOpenPositionBySymbolSide(ctx context.Context, symbol, side string) (*database.Position, error)
	ListOpenPositions(ctx context.Context) ([]*database.Position, error)
	ClosePosition(ctx context.Context, id int64, exitPrice float64, exitReason string) (bool, error)
	MarkPositionError(ctx context.Context, id int64, reason string) error
}

// Manager executes the order and position lifecycle against the exchange
// and keeps the tracked rows in step. All opens and closes go through it.
type Manager struct {
	store  Store
	client binance.FuturesClient
	ids    *orders.ClientOrderIdGenerator
	bus    *events.EventBus
	logger zerolog.Logger

	// fillQueryDelay is overridable in tests
	fillQueryDelay time.Duration

	stepMu      sync.Mutex
	steps       map[string]string
	stepsLoaded time.Time
}

var _ risk.Closer = (*Manager)(nil)

// NewManager creates a lifecycle manager
func NewManager(store Store, client binance.FuturesClient, ids *orders.ClientOrderIdGenerator, bus *events.EventBus, logger zerolog.Logger) *Manager {
	return &Manager{
		store:          store,
		client:         client,
		ids:            ids,
		bus:            bus,
		logger:         logger.With().Str("component", "trading_manager").Logger(),
		fillQueryDelay: orderQueryDelay,
		steps:          make(map[string]string),
	}
}

// OpenPosition opens a market position for a bot and records the tracked
// row. The client order id is deterministic per (bot, signal log) so a
// replayed signal cannot double-open; without a signal log a sequence id
// is generated.
func (m *Manager) OpenPosition(ctx context.Context, bot *database.BotConfig, signalLog *database.TVSignalLog, side string, qty float64) (*database.Position, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("invalid open quantity %v for %s", qty, bot.Symbol)
	}
	if side != database.SideLong && side != database.SideShort {
		return nil, fmt.Errorf("invalid side %q", side)
	}

	leverage := bot.Leverage
	if leverage <= 0 {
		leverage = risk.DefaultLeverage
	}
	if _, err := m.client.SetLeverage(bot.Symbol, leverage); err != nil {
		// Leverage may already be set; the order decides.
		m.logger.Warn().Err(err).Str("symbol", bot.Symbol).Int("leverage", leverage).
			Msg("failed to set leverage, proceeding")
	}

	var clientID string
	if signalLog != nil {
		clientID = orders.SignalEntryID(bot.ID, signalLog.ID)
	} else {
		var err error
		clientID, err = m.ids.Generate(ctx, orders.KindEntry)
		if err != nil {
			return nil, fmt.Errorf("failed to generate client order id: %w", err)
		}
	}

	resp, err := m.client.PlaceFuturesOrder(binance.FuturesOrderParams{
		Symbol:           bot.Symbol,
		Side:             orderSide(side),
		Type:             binance.FuturesOrderTypeMarket,
		Quantity:         qty,
		NewClientOrderId: clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place entry order for %s: %w", bot.Symbol, err)
	}

	entryPrice := m.resolveFillPrice(bot.Symbol, resp)
	filledQty := resp.ExecutedQty
	if filledQty <= 0 {
		filledQty = qty
	}

	pos := &database.Position{
		Symbol:               bot.Symbol,
		Side:                 side,
		Qty:                  filledQty,
		EntryPrice:           entryPrice,
		Status:               database.PositionStatusOpen,
		BinanceOrderID:       &resp.OrderId,
		ClientOrderID:        &clientID,
		BotID:                &bot.ID,
		BotStopLossEnabled:   bot.UseDynamicStop || bot.BaseStopLossPct > 0,
		TVSignalCloseEnabled: true,
	}
	if signalLog != nil {
		pos.TVSignalLogID = &signalLog.ID
	}
	if bot.UseDynamicStop {
		pos.TrailCallback = bot.TrailingCallbackPercent
		if entryPrice > 0 {
			e := entryPrice
			pos.ExtremePrice = &e
		}
	}
	if bot.BaseStopLossPct > 0 {
		b := bot.BaseStopLossPct
		pos.BaseStopLossPct = &b
	}

	if err := m.store.CreatePosition(ctx, pos); err != nil {
		// The exchange position is live but untracked; the external
		// scanner picks it up next cycle.
		m.logger.Error().Err(err).Str("symbol", bot.Symbol).Int64("order_id", resp.OrderId).
			Msg("order filled but position row creation failed")
		return nil, fmt.Errorf("failed to record position: %w", err)
	}

	m.logger.Info().Int64("position_id", pos.ID).Str("symbol", pos.Symbol).Str("side", side).
		Float64("qty", filledQty).Float64("entry_price", entryPrice).Str("client_order_id", clientID).
		Msg("position opened")
	if m.bus != nil {
		m.bus.PublishPositionOpened(pos.ID, pos.Symbol, side, entryPrice, filledQty)
	}
	return pos, nil
}

// ClosePosition closes a tracked position with a reduce-only market order
// and transitions the row. An exchange failure marks the row ERROR; a row
// already transitioned by a concurrent close is treated as done.
func (m *Manager) ClosePosition(ctx context.Context, pos *database.Position, exitReason string) error {
	clientID, err := m.ids.Generate(ctx, kindForExit(exitReason))
	if err != nil {
		return fmt.Errorf("failed to generate client order id: %w", err)
	}

	resp, err := m.client.PlaceFuturesOrder(binance.FuturesOrderParams{
		Symbol:           pos.Symbol,
		Side:             closeSide(pos.Side),
		Type:             binance.FuturesOrderTypeMarket,
		Quantity:         pos.Qty,
		ReduceOnly:       true,
		NewClientOrderId: clientID,
	})
	if err != nil {
		if markErr := m.store.MarkPositionError(ctx, pos.ID, fmt.Sprintf("close failed: %v", err)); markErr != nil {
			m.logger.Error().Err(markErr).Int64("position_id", pos.ID).Msg("failed to mark position ERROR")
		}
		return fmt.Errorf("failed to place close order for %s: %w", pos.Symbol, err)
	}

	exitPrice := m.resolveFillPrice(pos.Symbol, resp)

	closed, err := m.store.ClosePosition(ctx, pos.ID, exitPrice, exitReason)
	if err != nil {
		return fmt.Errorf("failed to transition position %d: %w", pos.ID, err)
	}
	if !closed {
		m.logger.Info().Int64("position_id", pos.ID).Msg("position already transitioned, close order was redundant")
		return nil
	}

	m.logger.Info().Int64("position_id", pos.ID).Str("symbol", pos.Symbol).Str("side", pos.Side).
		Float64("exit_price", exitPrice).Str("exit_reason", exitReason).
		Msg("position closed")
	if m.bus != nil {
		m.bus.PublishPositionClosed(pos.ID, pos.Symbol, pos.Side, exitPrice, exitReason)
	}
	return nil
}

// CloseExternalPosition closes an exchange position that has no tracked
// row and records a synthetic row for the audit trail.
func (m *Manager) CloseExternalPosition(ctx context.Context, symbol, side string, qty float64, exitReason string) (*database.Position, error) {
	clientID, err := m.ids.Generate(ctx, kindForExit(exitReason))
	if err != nil {
		return nil, fmt.Errorf("failed to generate client order id: %w", err)
	}

	exPos, err := m.client.GetPositionBySymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange position for %s: %w", symbol, err)
	}
	entryPrice := 0.0
	if exPos != nil {
		entryPrice = exPos.EntryPrice
	}

	resp, err := m.client.PlaceFuturesOrder(binance.FuturesOrderParams{
		Symbol:           symbol,
		Side:             closeSide(side),
		Type:             binance.FuturesOrderTypeMarket,
		Quantity:         qty,
		ReduceOnly:       true,
		NewClientOrderId: clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close external position %s: %w", symbol, err)
	}

	exitPrice := m.resolveFillPrice(symbol, resp)

	pos := &database.Position{
		Symbol:         symbol,
		Side:           side,
		Qty:            qty,
		EntryPrice:     entryPrice,
		Status:         database.PositionStatusOpen,
		BinanceOrderID: &resp.OrderId,
		ClientOrderID:  &clientID,
	}
	if err := m.store.CreatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to record external close: %w", err)
	}
	if _, err := m.store.ClosePosition(ctx, pos.ID, exitPrice, exitReason); err != nil {
		return nil, fmt.Errorf("failed to transition external close row: %w", err)
	}

	m.logger.Info().Str("symbol", symbol).Str("side", side).Float64("qty", qty).
		Float64("exit_price", exitPrice).Str("exit_reason", exitReason).
		Msg("external position closed")
	if m.bus != nil {
		m.bus.PublishPositionClosed(pos.ID, symbol, side, exitPrice, exitReason)
	}
	return pos, nil
}

// CloseAllPositions force-closes every live exchange position, matching
// tracked rows where they exist and recording synthetic rows otherwise.
// Per-symbol failures are collected; the count of successful closes is
// returned either way.
func (m *Manager) CloseAllPositions(ctx context.Context, exitReason string) (int, error) {
	exchangePositions, err := m.client.GetPositions()
	if err != nil {
		return 0, fmt.Errorf("failed to list exchange positions: %w", err)
	}

	now := time.Now()
	closed := 0
	var failures []string

	for i, exPos := range exchangePositions {
		if exPos.PositionAmt == 0 {
			continue
		}
		side := database.SideLong
		if exPos.PositionAmt < 0 {
			side = database.SideShort
		}
		qty := math.Abs(exPos.PositionAmt)
		clientID := orders.PortfolioCloseID(now, i)

		resp, err := m.client.PlaceFuturesOrder(binance.FuturesOrderParams{
			Symbol:           exPos.Symbol,
			Side:             closeSide(side),
			Type:             binance.FuturesOrderTypeMarket,
			Quantity:         qty,
			ReduceOnly:       true,
			NewClientOrderId: clientID,
		})
		if err != nil {
			m.logger.Error().Err(err).Str("symbol", exPos.Symbol).Str("side", side).
				Msg("close-all order failed")
			failures = append(failures, fmt.Sprintf("%s %s: %v", exPos.Symbol, side, err))
			continue
		}
		closed++
		exitPrice := m.resolveFillPrice(exPos.Symbol, resp)

		tracked, err := m.store.GetOpenPositionBySymbolSide(ctx, exPos.Symbol, side)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s %s: lookup: %v", exPos.Symbol, side, err))
			continue
		}
		if tracked != nil {
			if _, err := m.store.ClosePosition(ctx, tracked.ID, exitPrice, exitReason); err != nil {
				failures = append(failures, fmt.Sprintf("%s %s: transition: %v", exPos.Symbol, side, err))
				continue
			}
			if m.bus != nil {
				m.bus.PublishPositionClosed(tracked.ID, exPos.Symbol, side, exitPrice, exitReason)
			}
			continue
		}

		synthetic := &database.Position{
			Symbol:         exPos.Symbol,
			Side:           side,
			Qty:            qty,
			EntryPrice:     exPos.EntryPrice,
			Status:         database.PositionStatusOpen,
			BinanceOrderID: &resp.OrderId,
			ClientOrderID:  &clientID,
		}
		if err := m.store.CreatePosition(ctx, synthetic); err != nil {
			failures = append(failures, fmt.Sprintf("%s %s: record: %v", exPos.Symbol, side, err))
			continue
		}
		if _, err := m.store.ClosePosition(ctx, synthetic.ID, exitPrice, exitReason); err != nil {
			failures = append(failures, fmt.Sprintf("%s %s: transition: %v", exPos.Symbol, side, err))
		}
	}

	m.logger.Info().Int("closed", closed).Int("failed", len(failures)).Str("exit_reason", exitReason).
		Msg("close-all finished")
	if len(failures) > 0 {
		return closed, fmt.Errorf("close-all had %d failures: %s", len(failures), strings.Join(failures, "; "))
	}
	return closed, nil
}

// ApplyTargetPosition reconciles a bot's tracked position against the
// signed target quantity from a position-based signal. Positive targets
// are long, negative short, zero flat.
func (m *Manager) ApplyTargetPosition(ctx context.Context, bot *database.BotConfig, signalLog *database.TVSignalLog, target float64) (ReconcileAction, error) {
	current, err := m.store.GetOpenPositionByBotAndSymbol(ctx, bot.ID, bot.Symbol)
	if err != nil {
		return ActionNone, fmt.Errorf("failed to load tracked position: %w", err)
	}

	currentSigned := 0.0
	if current != nil {
		currentSigned = current.SignedQty()
	}

	if math.Abs(target-currentSigned) <= qtyEpsilon {
		return ActionNone, nil
	}

	// Flatten request.
	if math.Abs(target) <= qtyEpsilon {
		if current == nil {
			return ActionNone, nil
		}
		if !current.TVSignalCloseEnabled {
			m.logger.Info().Int64("position_id", current.ID).Str("symbol", current.Symbol).
				Msg("flatten signal ignored, signal close disabled for position")
			return ActionSkipped, nil
		}
		if err := m.ClosePosition(ctx, current, database.ExitReasonTVExit); err != nil {
			return ActionNone, err
		}
		return ActionClosed, nil
	}

	targetSide := database.SideLong
	if target < 0 {
		targetSide = database.SideShort
	}
	targetQty := math.Abs(target)

	// No current position: plain open.
	if current == nil {
		if _, err := m.OpenPosition(ctx, bot, signalLog, targetSide, targetQty); err != nil {
			return ActionNone, err
		}
		return ActionOpened, nil
	}

	// Side flip: close out, then open the other way.
	if current.Side != targetSide {
		reason := database.ExitReasonTVReverseToLong
		if targetSide == database.SideShort {
			reason = database.ExitReasonTVReverseToShort
		}
		if err := m.ClosePosition(ctx, current, reason); err != nil {
			return ActionNone, err
		}
		if _, err := m.OpenPosition(ctx, bot, signalLog, targetSide, targetQty); err != nil {
			return ActionClosed, fmt.Errorf("reversed out but reopen failed: %w", err)
		}
		return ActionReversed, nil
	}

	// Same side, different size: rebalance only past the discrepancy
	// threshold, small strategy drift is left alone.
	diffPct := math.Abs(target-currentSigned) / math.Abs(currentSigned) * 100
	if diffPct <= rebalanceThresholdPct {
		return ActionNone, nil
	}
	if err := m.ClosePosition(ctx, current, database.ExitReasonTVRebalance); err != nil {
		return ActionNone, err
	}
	if _, err := m.OpenPosition(ctx, bot, signalLog, targetSide, targetQty); err != nil {
		return ActionClosed, fmt.Errorf("rebalance close done but reopen failed: %w", err)
	}
	return ActionRebalance, nil
}

// QuantityForBot derives the order quantity for a bot. Investment-amount
// mode divides max_invest_usdt by the mark price and quantizes to the
// LOT_SIZE step; otherwise the bot's fixed quantity or the signal's
// quantity applies.
func (m *Manager) QuantityForBot(bot *database.BotConfig, signalQty *float64) (float64, error) {
	if bot.MaxInvestUSDT != nil && *bot.MaxInvestUSDT > 0 {
		mp, err := m.client.GetMarkPrice(bot.Symbol)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch mark price for %s: %w", bot.Symbol, err)
		}
		if mp.MarkPrice <= 0 {
			return 0, fmt.Errorf("invalid mark price %v for %s", mp.MarkPrice, bot.Symbol)
		}
		qty := *bot.MaxInvestUSDT / mp.MarkPrice
		qty = QuantizeQty(qty, m.lotSizeStep(bot.Symbol))
		if qty <= 0 {
			return 0, fmt.Errorf("investment %v too small for %s lot size", *bot.MaxInvestUSDT, bot.Symbol)
		}
		return qty, nil
	}
	if bot.Qty > 0 {
		return bot.Qty, nil
	}
	if signalQty != nil && *signalQty > 0 {
		return *signalQty, nil
	}
	return 0, fmt.Errorf("no quantity configured for bot %s", bot.Name)
}

// resolveFillPrice extracts the fill price from an order response with
// fallbacks: average price, a delayed order re-query, the limit price
// and finally the mark price. Zero means every source failed.
func (m *Manager) resolveFillPrice(symbol string, resp *binance.FuturesOrderResponse) float64 {
	if resp.AvgPrice > 0 {
		return resp.AvgPrice
	}

	// Market fills occasionally report avgPrice after a short delay.
	time.Sleep(m.fillQueryDelay)
	if order, err := m.client.GetOrder(symbol, resp.OrderId); err == nil && order != nil && order.AvgPrice > 0 {
		return order.AvgPrice
	}

	if resp.Price > 0 {
		return resp.Price
	}

	if mp, err := m.client.GetMarkPrice(symbol); err == nil && mp.MarkPrice > 0 {
		m.logger.Warn().Str("symbol", symbol).Int64("order_id", resp.OrderId).
			Msg("fill price unavailable, using mark price")
		return mp.MarkPrice
	}

	m.logger.Error().Str("symbol", symbol).Int64("order_id", resp.OrderId).
		Msg("could not resolve fill price")
	return 0
}

// lotSizeStep returns the LOT_SIZE step for a symbol, cached from
// exchange info. An unknown symbol yields an empty step (no quantization).
func (m *Manager) lotSizeStep(symbol string) string {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	if time.Since(m.stepsLoaded) > stepCacheTTL || len(m.steps) == 0 {
		info, err := m.client.GetFuturesExchangeInfo()
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to load exchange info for lot sizes")
			return m.steps[symbol]
		}
		steps := make(map[string]string, len(info.Symbols))
		for _, s := range info.Symbols {
			for _, f := range s.Filters {
				if f.FilterType == "LOT_SIZE" && f.StepSize != "" {
					steps[s.Symbol] = f.StepSize
				}
			}
		}
		m.steps = steps
		m.stepsLoaded = time.Now()
	}
	return m.steps[symbol]
}

// orderSide maps a position side to the entry order side
func orderSide(side string) string {
	if side == database.SideShort {
		return "SELL"
	}
	return "BUY"
}

// closeSide maps a position side to the reduce-only close order side
func closeSide(side string) string {
	if side == database.SideShort {
		return "BUY"
	}
	return "SELL"
}

// kindForExit picks the client order id kind for an exit reason
func kindForExit(reason string) orders.OrderKind {
	switch reason {
	case database.ExitReasonDynamicStop, database.ExitReasonBaseStop:
		return orders.KindStop
	case database.ExitReasonManualClose, database.ExitReasonManualCloseAll:
		return orders.KindManual
	case database.ExitReasonPortfolioTrailing:
		return orders.KindPortfolio
	default:
		return orders.KindExit
	}
}
