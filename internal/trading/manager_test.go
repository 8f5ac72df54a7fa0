package trading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/orders"

	"github.com/rs/zerolog"
)

type memStore struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]*database.Position
	createErr error
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[int64]*database.Position)}
}

func (s *memStore) CreatePosition(ctx context.Context, p *database.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	p.ID = s.nextID
	p.CreatedAt = time.Now()
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *memStore) GetOpenPositionByBotAndSymbol(ctx context.Context, botID int64, symbol string) (*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Status == database.PositionStatusOpen && p.Symbol == symbol &&
			p.BotID != nil && *p.BotID == botID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetOpenPositionBySymbolSide(ctx context.Context, symbol, side string) (*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Status == database.PositionStatusOpen && p.Symbol == symbol && p.Side == side {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListOpenPositions(ctx context.Context) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Position
	for _, p := range s.positions {
		if p.Status == database.PositionStatusOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ClosePosition(ctx context.Context, id int64, exitPrice float64, exitReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != database.PositionStatusOpen {
		return false, nil
	}
	now := time.Now()
	p.Status = database.PositionStatusClosed
	p.ExitPrice = &exitPrice
	p.ExitReason = &exitReason
	p.ClosedAt = &now
	return true, nil
}

func (s *memStore) MarkPositionError(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position %d not found", id)
	}
	p.Status = database.PositionStatusError
	p.ExitReason = &reason
	return nil
}

func (s *memStore) get(id int64) *database.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.positions[id]
	return &cp
}

func newTestManager(store *memStore, client *binance.FuturesMockClient) *Manager {
	ids := orders.NewClientOrderIdGenerator(nil, nil)
	m := NewManager(store, client, ids, nil, zerolog.Nop())
	m.fillQueryDelay = time.Millisecond
	return m
}

func testBot(id int64, symbol string) *database.BotConfig {
	cb := 0.5
	return &database.BotConfig{
		ID:                      id,
		Name:                    fmt.Sprintf("bot-%d", id),
		BotKey:                  fmt.Sprintf("key-%d", id),
		Enabled:                 true,
		Symbol:                  symbol,
		Qty:                     1,
		Leverage:                20,
		UseDynamicStop:          true,
		TrailingCallbackPercent: &cb,
		BaseStopLossPct:         2,
		TradingMode:             database.TradingModeAuto,
	}
}

func TestOpenPositionRecordsRowWithStopConfig(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)

	bot := testBot(7, "BTCUSDT")
	log := &database.TVSignalLog{ID: 42}

	pos, err := mgr.OpenPosition(context.Background(), bot, log, database.SideLong, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if pos.EntryPrice != 100 {
		t.Errorf("entry price = %v, want 100", pos.EntryPrice)
	}
	if pos.ClientOrderID == nil || *pos.ClientOrderID != "TVBOT-B7-L42-E" {
		t.Errorf("client order id = %v, want deterministic signal entry id", pos.ClientOrderID)
	}
	if !pos.BotStopLossEnabled {
		t.Error("stop must be enabled from bot config")
	}
	if pos.TrailCallback == nil || *pos.TrailCallback != 0.5 {
		t.Errorf("trail callback = %v, want 0.5", pos.TrailCallback)
	}
	if pos.BaseStopLossPct == nil || *pos.BaseStopLossPct != 2 {
		t.Errorf("base stop pct = %v, want 2", pos.BaseStopLossPct)
	}
	if pos.ExtremePrice == nil || *pos.ExtremePrice != 100 {
		t.Errorf("extreme = %v, want seeded to entry", pos.ExtremePrice)
	}

	saved := store.get(pos.ID)
	if saved.Status != database.PositionStatusOpen {
		t.Errorf("status = %s, want OPEN", saved.Status)
	}

	// The exchange side holds the position.
	exPos, _ := client.GetPositionBySymbol("BTCUSDT")
	if exPos.PositionAmt != 1 {
		t.Errorf("exchange amt = %v, want 1", exPos.PositionAmt)
	}
}

func TestOpenPositionRejectsBadInput(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	mgr := newTestManager(store, client)
	bot := testBot(1, "BTCUSDT")

	if _, err := mgr.OpenPosition(context.Background(), bot, nil, database.SideLong, 0); err == nil {
		t.Error("zero quantity must be rejected")
	}
	if _, err := mgr.OpenPosition(context.Background(), bot, nil, "SIDEWAYS", 1); err == nil {
		t.Error("unknown side must be rejected")
	}
}

func TestClosePositionTransitionsRow(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)

	pos, err := mgr.OpenPosition(context.Background(), testBot(1, "BTCUSDT"), nil, database.SideLong, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	client.SetMarkPrice("BTCUSDT", 105)
	if err := mgr.ClosePosition(context.Background(), pos, database.ExitReasonManualClose); err != nil {
		t.Fatalf("close: %v", err)
	}

	saved := store.get(pos.ID)
	if saved.Status != database.PositionStatusClosed {
		t.Fatalf("status = %s, want CLOSED", saved.Status)
	}
	if saved.ExitPrice == nil || *saved.ExitPrice != 105 {
		t.Errorf("exit price = %v, want 105", saved.ExitPrice)
	}
	if saved.ExitReason == nil || *saved.ExitReason != database.ExitReasonManualClose {
		t.Errorf("exit reason = %v", saved.ExitReason)
	}

	// Close order was reduce-only opposite the position.
	last := client.PlacedOrders[len(client.PlacedOrders)-1]
	if !last.ReduceOnly || last.Side != "SELL" {
		t.Errorf("close order = %+v, want reduce-only SELL", last)
	}
}

func TestClosePositionMarksErrorOnExchangeFailure(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)

	pos, err := mgr.OpenPosition(context.Background(), testBot(1, "BTCUSDT"), nil, database.SideLong, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	client.FailNextOrder = true
	if err := mgr.ClosePosition(context.Background(), pos, database.ExitReasonDynamicStop); err == nil {
		t.Fatal("expected exchange failure to surface")
	}

	saved := store.get(pos.ID)
	if saved.Status != database.PositionStatusError {
		t.Errorf("status = %s, want ERROR after failed close", saved.Status)
	}
}

func TestClosePositionIdempotentAgainstConcurrentClose(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)

	pos, err := mgr.OpenPosition(context.Background(), testBot(1, "BTCUSDT"), nil, database.SideLong, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Someone else already transitioned the row.
	if _, err := store.ClosePosition(context.Background(), pos.ID, 99, database.ExitReasonManualClose); err != nil {
		t.Fatalf("setup close: %v", err)
	}

	if err := mgr.ClosePosition(context.Background(), pos, database.ExitReasonDynamicStop); err != nil {
		t.Fatalf("redundant close must not error: %v", err)
	}
	saved := store.get(pos.ID)
	if *saved.ExitReason != database.ExitReasonManualClose {
		t.Error("earlier transition must win")
	}
}

func TestCloseExternalPositionRecordsSyntheticRow(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("ETHUSDT", 50)
	client.SetPosition(binance.FuturesPosition{
		Symbol: "ETHUSDT", PositionAmt: 2, EntryPrice: 48, MarkPrice: 50, Leverage: 20,
	})
	mgr := newTestManager(store, client)

	pos, err := mgr.CloseExternalPosition(context.Background(), "ETHUSDT", database.SideLong, 2, database.ExitReasonDynamicStop)
	if err != nil {
		t.Fatalf("close external: %v", err)
	}

	saved := store.get(pos.ID)
	if saved.Status != database.PositionStatusClosed {
		t.Errorf("status = %s, want CLOSED", saved.Status)
	}
	if saved.BotID != nil {
		t.Error("synthetic row must not belong to a bot")
	}
	if saved.EntryPrice != 48 {
		t.Errorf("entry = %v, want 48 from exchange", saved.EntryPrice)
	}
	if saved.ExitPrice == nil || *saved.ExitPrice != 50 {
		t.Errorf("exit price = %v, want 50", saved.ExitPrice)
	}
}

func TestCloseAllPositionsMatchesTrackedAndUntracked(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	client.SetMarkPrice("ETHUSDT", 50)
	mgr := newTestManager(store, client)

	// One tracked position opened through the manager.
	tracked, err := mgr.OpenPosition(context.Background(), testBot(1, "BTCUSDT"), nil, database.SideLong, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// One manual short on the exchange only.
	client.SetPosition(binance.FuturesPosition{
		Symbol: "ETHUSDT", PositionAmt: -3, EntryPrice: 52, MarkPrice: 50, Leverage: 10,
	})

	closed, err := mgr.CloseAllPositions(context.Background(), database.ExitReasonPortfolioTrailing)
	if err != nil {
		t.Fatalf("close all: %v", err)
	}
	if closed != 2 {
		t.Fatalf("closed = %d, want 2", closed)
	}

	saved := store.get(tracked.ID)
	if saved.Status != database.PositionStatusClosed || *saved.ExitReason != database.ExitReasonPortfolioTrailing {
		t.Errorf("tracked row = %s/%v", saved.Status, saved.ExitReason)
	}

	// The untracked short got a synthetic CLOSED row.
	var synthetic *database.Position
	store.mu.Lock()
	for _, p := range store.positions {
		if p.Symbol == "ETHUSDT" {
			cp := *p
			synthetic = &cp
		}
	}
	store.mu.Unlock()
	if synthetic == nil {
		t.Fatal("synthetic row missing for untracked position")
	}
	if synthetic.Side != database.SideShort || synthetic.Qty != 3 {
		t.Errorf("synthetic row = %s qty %v", synthetic.Side, synthetic.Qty)
	}
	if synthetic.ClientOrderID == nil || !strings.HasPrefix(*synthetic.ClientOrderID, "TVBOT-PT-") {
		t.Errorf("synthetic client order id = %v", synthetic.ClientOrderID)
	}

	// Exchange is flat.
	positions, _ := client.GetPositions()
	for _, p := range positions {
		if p.PositionAmt != 0 {
			t.Errorf("exchange still holds %s amt %v", p.Symbol, p.PositionAmt)
		}
	}
}

func TestApplyTargetPositionOpensWhenFlat(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)

	action, err := mgr.ApplyTargetPosition(context.Background(), testBot(1, "BTCUSDT"), nil, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if action != ActionOpened {
		t.Fatalf("action = %s, want opened", action)
	}

	pos, _ := store.GetOpenPositionByBotAndSymbol(context.Background(), 1, "BTCUSDT")
	if pos == nil || pos.Side != database.SideLong || pos.Qty != 2 {
		t.Errorf("tracked position = %+v", pos)
	}
}

func TestApplyTargetPositionNoOpWithinEpsilonAndThreshold(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)
	ctx := context.Background()
	bot := testBot(1, "BTCUSDT")

	if _, err := mgr.ApplyTargetPosition(ctx, bot, nil, 2); err != nil {
		t.Fatalf("setup open: %v", err)
	}

	// Identical target.
	action, err := mgr.ApplyTargetPosition(ctx, bot, nil, 2)
	if err != nil || action != ActionNone {
		t.Errorf("identical target: action = %s, err = %v", action, err)
	}

	// 5% drift sits under the rebalance threshold.
	action, err = mgr.ApplyTargetPosition(ctx, bot, nil, 2.1)
	if err != nil || action != ActionNone {
		t.Errorf("small drift: action = %s, err = %v", action, err)
	}

	// 50% discrepancy rebalances.
	action, err = mgr.ApplyTargetPosition(ctx, bot, nil, 3)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if action != ActionRebalance {
		t.Fatalf("action = %s, want rebalanced", action)
	}
	pos, _ := store.GetOpenPositionByBotAndSymbol(ctx, 1, "BTCUSDT")
	if pos == nil || pos.Qty != 3 {
		t.Errorf("rebalanced position = %+v", pos)
	}
}

func TestApplyTargetPositionReversesOnSideFlip(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)
	ctx := context.Background()
	bot := testBot(1, "BTCUSDT")

	if _, err := mgr.ApplyTargetPosition(ctx, bot, nil, 1); err != nil {
		t.Fatalf("setup open: %v", err)
	}

	action, err := mgr.ApplyTargetPosition(ctx, bot, nil, -2)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if action != ActionReversed {
		t.Fatalf("action = %s, want reversed", action)
	}

	pos, _ := store.GetOpenPositionByBotAndSymbol(ctx, 1, "BTCUSDT")
	if pos == nil || pos.Side != database.SideShort || pos.Qty != 2 {
		t.Errorf("reversed position = %+v", pos)
	}
	exPos, _ := client.GetPositionBySymbol("BTCUSDT")
	if exPos.PositionAmt != -2 {
		t.Errorf("exchange amt = %v, want -2", exPos.PositionAmt)
	}
}

func TestApplyTargetPositionFlattenHonorsSignalCloseToggle(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 100)
	mgr := newTestManager(store, client)
	ctx := context.Background()
	bot := testBot(1, "BTCUSDT")

	if _, err := mgr.ApplyTargetPosition(ctx, bot, nil, 1); err != nil {
		t.Fatalf("setup open: %v", err)
	}

	// Disable signal close on the tracked row.
	store.mu.Lock()
	for _, p := range store.positions {
		p.TVSignalCloseEnabled = false
	}
	store.mu.Unlock()

	action, err := mgr.ApplyTargetPosition(ctx, bot, nil, 0)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if action != ActionSkipped {
		t.Fatalf("action = %s, want skipped", action)
	}

	// Re-enable and flatten for real.
	store.mu.Lock()
	for _, p := range store.positions {
		p.TVSignalCloseEnabled = true
	}
	store.mu.Unlock()

	action, err = mgr.ApplyTargetPosition(ctx, bot, nil, 0)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if action != ActionClosed {
		t.Fatalf("action = %s, want closed", action)
	}
	pos, _ := store.GetOpenPositionByBotAndSymbol(ctx, 1, "BTCUSDT")
	if pos != nil {
		t.Error("position must be closed after flatten")
	}
}

func TestQuantityForBot(t *testing.T) {
	store := newMemStore()
	client := binance.NewFuturesMockClient(10000, nil)
	client.SetMarkPrice("BTCUSDT", 30000)
	mgr := newTestManager(store, client)

	// Investment mode: 1500 / 30000 = 0.05, on a 0.001 step.
	invest := 1500.0
	bot := testBot(1, "BTCUSDT")
	bot.Qty = 0
	bot.MaxInvestUSDT = &invest
	qty, err := mgr.QuantityForBot(bot, nil)
	if err != nil {
		t.Fatalf("investment mode: %v", err)
	}
	if qty != 0.05 {
		t.Errorf("qty = %v, want 0.05", qty)
	}

	// Fixed quantity wins when no investment amount is set.
	bot.MaxInvestUSDT = nil
	bot.Qty = 0.7
	qty, err = mgr.QuantityForBot(bot, nil)
	if err != nil || qty != 0.7 {
		t.Errorf("fixed qty = %v, err = %v", qty, err)
	}

	// Signal quantity is the last resort.
	bot.Qty = 0
	sq := 0.3
	qty, err = mgr.QuantityForBot(bot, &sq)
	if err != nil || qty != 0.3 {
		t.Errorf("signal qty = %v, err = %v", qty, err)
	}

	// Nothing configured: error.
	if _, err := mgr.QuantityForBot(bot, nil); err == nil {
		t.Error("expected error with no quantity source")
	}
}
