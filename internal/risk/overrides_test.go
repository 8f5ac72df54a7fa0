package risk

import (
	"context"
	"testing"

	"tv-trading-bot/internal/binance"

	"github.com/rs/zerolog"
)

func TestSymbolOverrideRoundTrip(t *testing.T) {
	store := newTestSettingsStore()

	if _, ok := store.SymbolOverride("BTCUSDT"); ok {
		t.Fatal("expected no override initially")
	}

	if err := store.SetSymbolOverride("btcusdt", SymbolOverride{LockRatio: f(0.7)}); err != nil {
		t.Fatalf("SetSymbolOverride: %v", err)
	}

	ov, ok := store.SymbolOverride("BTCUSDT")
	if !ok {
		t.Fatal("expected override after set")
	}
	if ov.LockRatio == nil || *ov.LockRatio != 0.7 {
		t.Errorf("lock ratio = %v, want 0.7", ov.LockRatio)
	}

	all := store.SymbolOverrides()
	if len(all) != 1 {
		t.Errorf("expected 1 override, got %d", len(all))
	}

	store.DeleteSymbolOverride("BTCUSDT")
	if _, ok := store.SymbolOverride("BTCUSDT"); ok {
		t.Error("expected no override after delete")
	}
}

func TestSymbolOverrideValidation(t *testing.T) {
	store := newTestSettingsStore()

	if err := store.SetSymbolOverride("", SymbolOverride{}); err == nil {
		t.Error("empty symbol should be rejected")
	}
	if err := store.SetSymbolOverride("BTCUSDT", SymbolOverride{LockRatio: f(1.5)}); err == nil {
		t.Error("lock ratio above 1 should be rejected")
	}
	if err := store.SetSymbolOverride("BTCUSDT", SymbolOverride{BaseStopPct: f(-1)}); err == nil {
		t.Error("negative base stop should be rejected")
	}
	if err := store.SetSymbolOverride("BTCUSDT", SymbolOverride{LockRatio: f(0)}); err != nil {
		t.Errorf("zero lock ratio is the disable sentinel and must be accepted: %v", err)
	}
}

func TestWorkerExternalPositionHonorsSymbolOverride(t *testing.T) {
	store := newFakePositionStore()
	client := &fakeFuturesClient{}
	closer := &fakeCloser{}
	settings := newTestSettingsStore()
	w := NewWorker(store, client, settings, closer, nil, nil, zerolog.Nop(), 0)

	// Zero lock ratio with no base stop disables closing for this symbol
	if err := settings.SetSymbolOverride("ETHUSDT", SymbolOverride{LockRatio: f(0), BaseStopPct: f(0)}); err != nil {
		t.Fatalf("SetSymbolOverride: %v", err)
	}

	client.setPositions([]binance.FuturesPosition{
		{Symbol: "ETHUSDT", PositionAmt: 2, EntryPrice: 2000, MarkPrice: 2100, Leverage: 20},
	})
	w.RunCycle(context.Background())

	// Deep retrace that would fire the global dynamic stop
	client.setPositions([]binance.FuturesPosition{
		{Symbol: "ETHUSDT", PositionAmt: 2, EntryPrice: 2000, MarkPrice: 2010, Leverage: 20},
	})
	w.RunCycle(context.Background())

	if len(closer.closed) != 0 {
		t.Errorf("override should suppress the close, got %d closes", len(closer.closed))
	}
}
