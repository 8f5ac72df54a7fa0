package risk

import (
	"context"
	"sync"
	"testing"

	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/database"

	"github.com/rs/zerolog"
)

type fakePositionStore struct {
	mu             sync.Mutex
	positions      []*database.Position
	extremeUpdates map[int64]float64
	entryUpdates   map[int64]float64
}

func newFakePositionStore(positions ...*database.Position) *fakePositionStore {
	return &fakePositionStore{
		positions:      positions,
		extremeUpdates: make(map[int64]float64),
		entryUpdates:   make(map[int64]float64),
	}
}

func (s *fakePositionStore) ListOpenPositions(ctx context.Context) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*database.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == database.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListOpenPositionsWithStopEnabled(ctx context.Context) ([]*database.Position, error) {
	all, _ := s.ListOpenPositions(ctx)
	out := make([]*database.Position, 0, len(all))
	for _, p := range all {
		if p.BotStopLossEnabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) UpdatePositionExtreme(ctx context.Context, id int64, extreme float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extremeUpdates[id] = extreme
	for _, p := range s.positions {
		if p.ID == id {
			e := extreme
			p.ExtremePrice = &e
		}
	}
	return nil
}

func (s *fakePositionStore) UpdatePositionEntryPrice(ctx context.Context, id int64, entryPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryUpdates[id] = entryPrice
	for _, p := range s.positions {
		if p.ID == id {
			p.EntryPrice = entryPrice
		}
	}
	return nil
}

func openPosition(id int64, symbol, side string, entry, qty float64) *database.Position {
	return &database.Position{
		ID:                 id,
		Symbol:             symbol,
		Side:               side,
		Qty:                qty,
		EntryPrice:         entry,
		Status:             database.PositionStatusOpen,
		BotStopLossEnabled: true,
	}
}

func exchangePosition(symbol string, amt, entry, mark, pnl float64) binance.FuturesPosition {
	return binance.FuturesPosition{
		Symbol:           symbol,
		PositionAmt:      amt,
		EntryPrice:       entry,
		MarkPrice:        mark,
		UnrealizedProfit: pnl,
		Leverage:         20,
	}
}

func newTestWorker(store *fakePositionStore, client *fakeFuturesClient, closer *fakeCloser) *Worker {
	return NewWorker(store, client, newTestSettingsStore(), closer, nil, nil, zerolog.Nop(), 0)
}

func TestWorkerSeedsExtremeThenTriggersDynamicStop(t *testing.T) {
	store := newFakePositionStore(openPosition(1, "BTCUSDT", database.SideLong, 100, 1))
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)
	ctx := context.Background()

	// Cycle 1 only records the extreme at 102: no trigger on first sight.
	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 102, 2)})
	worker.RunCycle(ctx)

	if len(closer.closed) != 0 {
		t.Fatal("first observation must not close the position")
	}
	if got := store.extremeUpdates[1]; got != 102 {
		t.Fatalf("seeded extreme = %v, want 102", got)
	}

	// Cycle 2 retraces to 100.5: dynamic stop at 101 triggers.
	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 100.5, 0.5)})
	worker.RunCycle(ctx)

	if len(closer.closed) != 1 {
		t.Fatalf("closed calls = %d, want 1", len(closer.closed))
	}
	call := closer.closed[0]
	if call.positionID != 1 || call.exitReason != database.ExitReasonDynamicStop {
		t.Errorf("close call = %+v, want position 1 with %s", call, database.ExitReasonDynamicStop)
	}
}

func TestWorkerSkipsPositionsWithStopDisabled(t *testing.T) {
	pos := openPosition(1, "BTCUSDT", database.SideLong, 100, 1)
	pos.BotStopLossEnabled = false
	store := newFakePositionStore(pos)
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)

	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 102, 2)})
	worker.RunCycle(context.Background())
	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 90, -10)})
	worker.RunCycle(context.Background())

	if len(closer.closed) != 0 {
		t.Error("disabled position must never be closed by the worker")
	}
	if len(store.extremeUpdates) != 0 {
		t.Error("disabled position must not accumulate extremes")
	}
}

func TestWorkerCorrectsZeroEntryPriceFromExchange(t *testing.T) {
	store := newFakePositionStore(openPosition(1, "BTCUSDT", database.SideLong, 0, 1))
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)

	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 101, 1)})
	worker.RunCycle(context.Background())

	if got := store.entryUpdates[1]; got != 100 {
		t.Fatalf("entry correction = %v, want 100", got)
	}
	if store.positions[0].EntryPrice != 100 {
		t.Errorf("in-memory entry = %v, want 100", store.positions[0].EntryPrice)
	}
}

func TestWorkerIsolatesPerPositionErrors(t *testing.T) {
	store := newFakePositionStore(
		openPosition(1, "BADUSDT", database.SideLong, 100, 1),
		openPosition(2, "BTCUSDT", database.SideLong, 100, 1),
	)
	client := &fakeFuturesClient{errSymbol: "BADUSDT"}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)

	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 102, 2)})
	worker.RunCycle(context.Background())

	// The failing symbol must not stop the healthy one from being evaluated.
	if got := store.extremeUpdates[2]; got != 102 {
		t.Errorf("healthy position extreme = %v, want 102", got)
	}
	if _, ok := store.extremeUpdates[1]; ok {
		t.Error("failing position must not record an extreme")
	}
}

func TestWorkerSkipsMissingExchangePosition(t *testing.T) {
	store := newFakePositionStore(openPosition(1, "BTCUSDT", database.SideLong, 100, 1))
	client := &fakeFuturesClient{} // exchange reports nothing
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)

	worker.RunCycle(context.Background())

	if len(closer.closed) != 0 || len(store.extremeUpdates) != 0 {
		t.Error("missing exchange position must be skipped without side effects")
	}
}

func TestWorkerAutoCloseDisabledSuppressesTrigger(t *testing.T) {
	store := newFakePositionStore(openPosition(1, "BTCUSDT", database.SideLong, 100, 1))
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)

	settings := worker.settings.Get()
	settings.AutoCloseEnabled = false
	if err := worker.settings.Update(settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	ctx := context.Background()
	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 102, 2)})
	worker.RunCycle(ctx)
	client.setPositions([]binance.FuturesPosition{exchangePosition("BTCUSDT", 1, 100, 100.5, 0.5)})
	worker.RunCycle(ctx)

	if len(closer.closed) != 0 {
		t.Error("auto-close off must suppress the close while stops keep updating")
	}
	// The extreme still advances for when auto-close is re-enabled.
	if got := store.extremeUpdates[1]; got != 102 {
		t.Errorf("extreme = %v, want 102", got)
	}
}

func TestWorkerClosesExternalPositionOnRetrace(t *testing.T) {
	store := newFakePositionStore() // nothing tracked
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)
	ctx := context.Background()

	// Cycle 1 starts in-memory tracking of the untracked exchange position.
	client.setPositions([]binance.FuturesPosition{exchangePosition("ETHUSDT", 2, 100, 102, 4)})
	worker.RunCycle(ctx)
	if len(closer.closed) != 0 {
		t.Fatal("first external observation must not close")
	}
	if worker.external.Len() != 1 {
		t.Fatalf("tracker len = %d, want 1", worker.external.Len())
	}

	// Cycle 2 retraces through the locked stop: synthetic close.
	client.setPositions([]binance.FuturesPosition{exchangePosition("ETHUSDT", 2, 100, 100.5, 1)})
	worker.RunCycle(ctx)

	if len(closer.closed) != 1 {
		t.Fatalf("closed calls = %d, want 1", len(closer.closed))
	}
	call := closer.closed[0]
	if !call.external || call.symbol != "ETHUSDT" || call.qty != 2 {
		t.Errorf("external close call = %+v", call)
	}
	if call.exitReason != database.ExitReasonDynamicStop {
		t.Errorf("exit reason = %s, want %s", call.exitReason, database.ExitReasonDynamicStop)
	}
	if worker.external.Len() != 0 {
		t.Error("tracker entry must be removed after a successful close")
	}
}

func TestWorkerPrunesVanishedExternalPositions(t *testing.T) {
	store := newFakePositionStore()
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)
	ctx := context.Background()

	client.setPositions([]binance.FuturesPosition{exchangePosition("ETHUSDT", 2, 100, 102, 4)})
	worker.RunCycle(ctx)
	if worker.external.Len() != 1 {
		t.Fatalf("tracker len = %d, want 1", worker.external.Len())
	}

	// Position closed manually on the exchange: tracking state goes away.
	client.setPositions(nil)
	worker.RunCycle(ctx)
	if worker.external.Len() != 0 {
		t.Errorf("tracker len = %d, want 0 after prune", worker.external.Len())
	}
}

func TestWorkerStartStopLifecycle(t *testing.T) {
	store := newFakePositionStore()
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	worker := newTestWorker(store, client, closer)

	if err := worker.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := worker.Start(); err == nil {
		t.Error("second start must fail while running")
	}
	if !worker.IsRunning() {
		t.Error("worker must report running")
	}
	if err := worker.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if worker.IsRunning() {
		t.Error("worker must report stopped")
	}
	if err := worker.Stop(); err == nil {
		t.Error("second stop must fail while stopped")
	}

	// Restart works after a stop.
	if err := worker.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := worker.Stop(); err != nil {
		t.Fatalf("stop after restart: %v", err)
	}
}
