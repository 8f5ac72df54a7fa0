package binance

import (
	"testing"
)

func TestCachedClientServesMarkPriceFromCache(t *testing.T) {
	mock := NewFuturesMockClient(10000, nil)
	mock.SetMarkPrice("BTCUSDT", 50000)

	cached := NewCachedFuturesClient(mock)

	mp, err := cached.GetMarkPrice("BTCUSDT")
	if err != nil {
		t.Fatalf("GetMarkPrice: %v", err)
	}
	if mp.MarkPrice != 50000 {
		t.Fatalf("mark price = %v, want 50000", mp.MarkPrice)
	}

	// A price change on the backend is invisible until the TTL expires
	mock.SetMarkPrice("BTCUSDT", 51000)
	mp, err = cached.GetMarkPrice("BTCUSDT")
	if err != nil {
		t.Fatalf("GetMarkPrice: %v", err)
	}
	if mp.MarkPrice != 50000 {
		t.Errorf("cached mark price = %v, want 50000", mp.MarkPrice)
	}
}

func TestCachedClientInvalidatesPositionsAfterOrder(t *testing.T) {
	mock := NewFuturesMockClient(10000, nil)
	mock.SetMarkPrice("BTCUSDT", 50000)

	cached := NewCachedFuturesClient(mock)

	positions, err := cached.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no positions, got %d", len(positions))
	}

	_, err = cached.PlaceFuturesOrder(FuturesOrderParams{
		Symbol:   "BTCUSDT",
		Side:     "BUY",
		Type:     FuturesOrderTypeMarket,
		Quantity: 1,
	})
	if err != nil {
		t.Fatalf("PlaceFuturesOrder: %v", err)
	}

	// The fill must be visible immediately despite the positions TTL
	positions, err = cached.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions after order: %v", err)
	}
	if len(positions) != 1 || positions[0].PositionAmt != 1 {
		t.Errorf("expected the fill to be visible, got %+v", positions)
	}
}

func TestCachedClientPositionBySymbolFallsBackToEmpty(t *testing.T) {
	mock := NewFuturesMockClient(10000, nil)
	cached := NewCachedFuturesClient(mock)

	pos, err := cached.GetPositionBySymbol("ethusdt")
	if err != nil {
		t.Fatalf("GetPositionBySymbol: %v", err)
	}
	if pos.Symbol != "ETHUSDT" || pos.PositionAmt != 0 {
		t.Errorf("expected empty ETHUSDT position, got %+v", pos)
	}
}
