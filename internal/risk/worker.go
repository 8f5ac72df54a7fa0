package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/events"

	"github.com/rs/zerolog"
)

// DefaultCheckInterval is the worker cycle cadence
const DefaultCheckInterval = 5 * time.Second

// Worker is the trailing stop loop. Each cycle it evaluates every tracked
// position, then every untracked exchange position, then the portfolio
// controller. A failure at any granularity is logged and skipped; only an
// explicit Stop terminates the loop.
type Worker struct {
	store     PositionStore
	client    binance.FuturesClient
	settings  *SettingsStore
	closer    Closer
	portfolio *PortfolioController
	bus       *events.EventBus
	external  *ExternalTracker
	logger    zerolog.Logger
	interval  time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a trailing stop worker
func NewWorker(
	store PositionStore,
	client binance.FuturesClient,
	settings *SettingsStore,
	closer Closer,
	portfolio *PortfolioController,
	bus *events.EventBus,
	logger zerolog.Logger,
	interval time.Duration,
) *Worker {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Worker{
		store:     store,
		client:    client,
		settings:  settings,
		closer:    closer,
		portfolio: portfolio,
		bus:       bus,
		external:  NewExternalTracker(),
		logger:    logger.With().Str("component", "trailing_worker").Logger(),
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start starts the worker loop
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("trailing stop worker already running")
	}
	w.running = true
	w.stopChan = make(chan struct{}) // Reinitialize for restart capability
	w.mu.Unlock()

	w.logger.Info().Dur("interval", w.interval).Msg("starting trailing stop worker")
	if w.bus != nil {
		w.bus.Publish(events.Event{Type: events.EventWorkerStarted, Data: map[string]interface{}{"interval": w.interval.String()}})
	}

	w.wg.Add(1)
	go w.runLoop()

	return nil
}

// Stop stops the worker loop, waiting for the current cycle to finish
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("trailing stop worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	w.logger.Info().Msg("trailing stop worker stopped")
	if w.bus != nil {
		w.bus.Publish(events.Event{Type: events.EventWorkerStopped, Data: map[string]interface{}{}})
	}
	return nil
}

// IsRunning returns whether the worker loop is active
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) runLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunCycle(context.Background())

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.RunCycle(context.Background())
		}
	}
}

// RunCycle executes one full evaluation cycle. Exposed for tests and for
// an administrative force-check endpoint.
func (w *Worker) RunCycle(ctx context.Context) {
	positions, err := w.store.ListOpenPositions(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list open positions, skipping cycle")
		return
	}

	for _, pos := range positions {
		if !pos.BotStopLossEnabled {
			continue
		}
		if err := w.processPosition(ctx, pos); err != nil {
			w.logger.Error().Err(err).Int64("position_id", pos.ID).Str("symbol", pos.Symbol).
				Msg("position evaluation failed")
		}
	}

	if err := w.processExternal(ctx, positions); err != nil {
		w.logger.Error().Err(err).Msg("external position scan failed")
	}

	if w.portfolio != nil {
		if err := w.portfolio.Check(ctx); err != nil {
			w.logger.Error().Err(err).Msg("portfolio trailing check failed")
		}
	}
}

// processPosition evaluates one tracked position: entry correction, extreme
// update, stop calculation and, when triggered, the close.
func (w *Worker) processPosition(ctx context.Context, pos *database.Position) error {
	exPos, err := w.client.GetPositionBySymbol(pos.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch exchange position: %w", err)
	}
	if exPos == nil || exPos.PositionAmt == 0 {
		// The exchange no longer holds this position; leave the row for
		// the lifecycle manager or the operator to reconcile.
		w.logger.Warn().Int64("position_id", pos.ID).Str("symbol", pos.Symbol).
			Msg("open position not found on exchange, skipping evaluation")
		return nil
	}

	mark := exPos.MarkPrice
	if mark <= 0 {
		mp, err := w.client.GetMarkPrice(pos.Symbol)
		if err != nil {
			return fmt.Errorf("failed to fetch mark price: %w", err)
		}
		mark = mp.MarkPrice
	}

	// One-time correction of a zero entry price from exchange data.
	if pos.EntryPrice <= 0 && exPos.EntryPrice > 0 {
		if err := w.store.UpdatePositionEntryPrice(ctx, pos.ID, exPos.EntryPrice); err != nil {
			return fmt.Errorf("failed to correct entry price: %w", err)
		}
		w.logger.Info().Int64("position_id", pos.ID).Float64("entry_price", exPos.EntryPrice).
			Msg("corrected entry price from exchange")
		pos.EntryPrice = exPos.EntryPrice
	}

	// First observation seeds the extreme; trigger evaluation needs at
	// least one prior extreme, so this cycle only records.
	if pos.ExtremePrice == nil {
		if err := w.store.UpdatePositionExtreme(ctx, pos.ID, mark); err != nil {
			return fmt.Errorf("failed to seed extreme price: %w", err)
		}
		pos.ExtremePrice = &mark
		return nil
	}

	input := StopInput{
		Side:                    pos.Side,
		EntryPrice:              pos.EntryPrice,
		MarkPrice:               mark,
		Quantity:                pos.Qty,
		Leverage:                exPos.Leverage,
		ExtremePrice:            pos.ExtremePrice,
		UnrealizedPnlPct:        unrealizedPnlPct(exPos),
		LockRatioOverride:       pos.TrailCallback,
		ProfitThresholdOverride: pos.DynProfitThresholdPct,
		BaseStopPctOverride:     pos.BaseStopLossPct,
	}

	state := Compute(input, w.settings.Get())

	if state.Extreme != *pos.ExtremePrice {
		if err := w.store.UpdatePositionExtreme(ctx, pos.ID, state.Extreme); err != nil {
			return fmt.Errorf("failed to persist extreme price: %w", err)
		}
		pos.ExtremePrice = &state.Extreme
	}

	if w.bus != nil && state.StopPrice != nil {
		w.bus.PublishPositionUpdate(pos.ID, pos.Symbol, pos.Side, mark, *state.StopPrice, string(state.Mode))
	}

	if !w.settings.Get().AutoCloseEnabled || !ShouldTrigger(pos.Side, mark, state) {
		return nil
	}

	exitReason := database.ExitReasonBaseStop
	if state.Mode == StopModeDynamic {
		exitReason = database.ExitReasonDynamicStop
	}

	w.logger.Warn().Int64("position_id", pos.ID).Str("symbol", pos.Symbol).Str("side", pos.Side).
		Str("mode", string(state.Mode)).Float64("stop_price", *state.StopPrice).Float64("mark_price", mark).
		Msg("stop triggered, closing position")

	if w.bus != nil {
		w.bus.PublishStopTriggered(pos.ID, pos.Symbol, pos.Side, string(state.Mode), *state.StopPrice, mark)
	}

	if err := w.closer.ClosePosition(ctx, pos, exitReason); err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	return nil
}

// processExternal applies the same stop logic to live exchange positions
// that have no tracked row, using in-memory extreme tracking and recording
// a synthetic row when one is closed.
func (w *Worker) processExternal(ctx context.Context, openPositions []*database.Position) error {
	exchangePositions, err := w.client.GetPositions()
	if err != nil {
		return fmt.Errorf("failed to list exchange positions: %w", err)
	}

	tracked := make(map[string]struct{}, len(openPositions))
	for _, pos := range openPositions {
		tracked[trackerKey(pos.Symbol, pos.Side)] = struct{}{}
	}

	settings := w.settings.Get()
	alive := make(map[string]struct{})

	for _, exPos := range exchangePositions {
		if exPos.PositionAmt == 0 {
			continue
		}
		side := database.SideLong
		if exPos.PositionAmt < 0 {
			side = database.SideShort
		}
		key := trackerKey(exPos.Symbol, side)
		alive[key] = struct{}{}
		if _, ok := tracked[key]; ok {
			continue
		}

		extreme, first := w.external.Observe(exPos.Symbol, side, exPos.EntryPrice, exPos.MarkPrice)
		if first {
			continue
		}

		qty := math.Abs(exPos.PositionAmt)
		input := StopInput{
			Side:             side,
			EntryPrice:       exPos.EntryPrice,
			MarkPrice:        exPos.MarkPrice,
			Quantity:         qty,
			Leverage:         exPos.Leverage,
			ExtremePrice:     &extreme,
			UnrealizedPnlPct: unrealizedPnlPct(&exPos),
		}
		if ov, ok := w.settings.SymbolOverride(exPos.Symbol); ok {
			input.LockRatioOverride = ov.LockRatio
			input.ProfitThresholdOverride = ov.ProfitThresholdPct
			input.BaseStopPctOverride = ov.BaseStopPct
		}

		state := Compute(input, settings)

		if !settings.AutoCloseEnabled || !ShouldTrigger(side, exPos.MarkPrice, state) {
			continue
		}

		exitReason := database.ExitReasonBaseStop
		if state.Mode == StopModeDynamic {
			exitReason = database.ExitReasonDynamicStop
		}

		w.logger.Warn().Str("symbol", exPos.Symbol).Str("side", side).
			Str("mode", string(state.Mode)).Float64("stop_price", *state.StopPrice).
			Float64("mark_price", exPos.MarkPrice).
			Msg("stop triggered on external position, closing")

		synthetic, err := w.closer.CloseExternalPosition(ctx, exPos.Symbol, side, qty, exitReason)
		if err != nil {
			w.logger.Error().Err(err).Str("symbol", exPos.Symbol).Str("side", side).
				Msg("failed to close external position")
			continue
		}
		w.external.Remove(exPos.Symbol, side)
		delete(alive, key)

		if w.bus != nil && synthetic != nil {
			w.bus.PublishStopTriggered(synthetic.ID, exPos.Symbol, side, string(state.Mode), *state.StopPrice, exPos.MarkPrice)
		}
	}

	w.external.Prune(alive)
	return nil
}

// unrealizedPnlPct derives the margin-based P&L percentage from exchange
// position data; nil when the margin cannot be computed.
func unrealizedPnlPct(exPos *binance.FuturesPosition) *float64 {
	qty := math.Abs(exPos.PositionAmt)
	if qty == 0 || exPos.EntryPrice <= 0 {
		return nil
	}
	leverage := exPos.Leverage
	if leverage <= 0 {
		leverage = DefaultLeverage
	}
	margin := qty * exPos.EntryPrice / float64(leverage)
	if margin <= 0 {
		return nil
	}
	pct := exPos.UnrealizedProfit / margin * 100
	return &pct
}
