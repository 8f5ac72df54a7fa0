package binance

import (
	"fmt"
	"sync"
	"time"
)

// FuturesMockClient implements the FuturesClient interface for dry-run mode
// and tests. Mark prices are set explicitly via SetMarkPrice, or served by
// an optional priceProvider.
type FuturesMockClient struct {
	mu            sync.RWMutex
	positions     map[string]*FuturesPosition
	orders        map[int64]*FuturesOrder
	leverage      map[string]int
	markPrices    map[string]float64
	balance       float64
	nextOrderId   int64
	priceProvider func(symbol string) (float64, error)

	// PlacedOrders records every order accepted, in order, for assertions
	PlacedOrders []FuturesOrderParams

	// FailNextOrder makes the next PlaceFuturesOrder call fail
	FailNextOrder bool
}

// NewFuturesMockClient creates a new mock futures client
func NewFuturesMockClient(initialBalance float64, priceProvider func(symbol string) (float64, error)) *FuturesMockClient {
	return &FuturesMockClient{
		positions:     make(map[string]*FuturesPosition),
		orders:        make(map[int64]*FuturesOrder),
		leverage:      make(map[string]int),
		markPrices:    make(map[string]float64),
		balance:       initialBalance,
		nextOrderId:   1000,
		priceProvider: priceProvider,
	}
}

// SetMarkPrice sets the mark price served for a symbol
func (c *FuturesMockClient) SetMarkPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markPrices[symbol] = price
}

// SetPosition seeds an exchange-side position directly
func (c *FuturesMockClient) SetPosition(pos FuturesPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := pos
	c.positions[pos.Symbol] = &p
}

func (c *FuturesMockClient) currentPriceLocked(symbol string) (float64, error) {
	if price, ok := c.markPrices[symbol]; ok {
		return price, nil
	}
	if c.priceProvider != nil {
		return c.priceProvider(symbol)
	}
	return 0, fmt.Errorf("no mark price for symbol: %s", symbol)
}

// ==================== ACCOUNT ====================

func (c *FuturesMockClient) GetFuturesAccountInfo() (*FuturesAccountInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalUnrealizedProfit := 0.0
	for _, pos := range c.positions {
		totalUnrealizedProfit += pos.UnrealizedProfit
	}

	return &FuturesAccountInfo{
		CanTrade:              true,
		TotalWalletBalance:    c.balance,
		TotalUnrealizedProfit: totalUnrealizedProfit,
		TotalMarginBalance:    c.balance + totalUnrealizedProfit,
		AvailableBalance:      c.balance,
		Assets: []FuturesAsset{
			{
				Asset:            "USDT",
				WalletBalance:    c.balance,
				AvailableBalance: c.balance,
			},
		},
	}, nil
}

func (c *FuturesMockClient) GetUSDTBalance() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance, nil
}

func (c *FuturesMockClient) GetPositions() ([]FuturesPosition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	positions := make([]FuturesPosition, 0, len(c.positions))
	for _, pos := range c.positions {
		// Refresh mark price and unrealized PnL
		if price, err := c.currentPriceLocked(pos.Symbol); err == nil {
			pos.MarkPrice = price
			if pos.PositionAmt > 0 {
				pos.UnrealizedProfit = (price - pos.EntryPrice) * pos.PositionAmt
			} else {
				pos.UnrealizedProfit = (pos.EntryPrice - price) * (-pos.PositionAmt)
			}
		}
		positions = append(positions, *pos)
	}

	return positions, nil
}

func (c *FuturesMockClient) GetPositionBySymbol(symbol string) (*FuturesPosition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos, exists := c.positions[symbol]
	if !exists {
		return &FuturesPosition{
			Symbol:       symbol,
			PositionAmt:  0,
			EntryPrice:   0,
			Leverage:     c.getLeverageLocked(symbol),
			PositionSide: "BOTH",
		}, nil
	}

	cp := *pos
	return &cp, nil
}

// ==================== LEVERAGE ====================

func (c *FuturesMockClient) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if leverage < 1 || leverage > 125 {
		return nil, fmt.Errorf("invalid leverage: must be between 1 and 125")
	}

	c.leverage[symbol] = leverage

	return &LeverageResponse{
		Leverage:         leverage,
		MaxNotionalValue: 1000000.0 / float64(leverage),
		Symbol:           symbol,
	}, nil
}

func (c *FuturesMockClient) getLeverageLocked(symbol string) int {
	if lev, ok := c.leverage[symbol]; ok {
		return lev
	}
	return 20
}

// ==================== TRADING ====================

func (c *FuturesMockClient) PlaceFuturesOrder(params FuturesOrderParams) (*FuturesOrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailNextOrder {
		c.FailNextOrder = false
		return nil, fmt.Errorf("mock order rejected")
	}

	currentPrice, err := c.currentPriceLocked(params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get current price: %w", err)
	}

	c.nextOrderId++
	orderId := c.nextOrderId
	now := time.Now().UnixMilli()

	fillPrice := currentPrice
	if params.Type == FuturesOrderTypeLimit && params.Price > 0 {
		fillPrice = params.Price
	}

	order := &FuturesOrder{
		OrderId:       orderId,
		Symbol:        params.Symbol,
		Status:        string(FuturesOrderStatusFilled),
		ClientOrderId: params.NewClientOrderId,
		Price:         params.Price,
		AvgPrice:      fillPrice,
		OrigQty:       params.Quantity,
		ExecutedQty:   params.Quantity,
		CumQuote:      fillPrice * params.Quantity,
		Type:          string(params.Type),
		ReduceOnly:    params.ReduceOnly,
		ClosePosition: params.ClosePosition,
		Side:          params.Side,
		PositionSide:  string(params.PositionSide),
		Time:          now,
		UpdateTime:    now,
	}
	c.orders[orderId] = order
	c.PlacedOrders = append(c.PlacedOrders, params)

	c.applyFillLocked(params, fillPrice)

	return &FuturesOrderResponse{
		OrderId:       orderId,
		Symbol:        params.Symbol,
		Status:        order.Status,
		ClientOrderId: order.ClientOrderId,
		Price:         order.Price,
		AvgPrice:      order.AvgPrice,
		OrigQty:       order.OrigQty,
		ExecutedQty:   order.ExecutedQty,
		CumQty:        order.ExecutedQty,
		CumQuote:      order.CumQuote,
		Type:          order.Type,
		ReduceOnly:    order.ReduceOnly,
		Side:          order.Side,
		PositionSide:  order.PositionSide,
		UpdateTime:    now,
	}, nil
}

// applyFillLocked updates the simulated position book after a fill
func (c *FuturesMockClient) applyFillLocked(params FuturesOrderParams, fillPrice float64) {
	pos, exists := c.positions[params.Symbol]
	if !exists {
		pos = &FuturesPosition{
			Symbol:       params.Symbol,
			Leverage:     c.getLeverageLocked(params.Symbol),
			PositionSide: "BOTH",
		}
		c.positions[params.Symbol] = pos
	}

	delta := params.Quantity
	if params.Side == "SELL" {
		delta = -delta
	}

	newAmt := pos.PositionAmt + delta
	switch {
	case pos.PositionAmt == 0:
		pos.EntryPrice = fillPrice
	case (pos.PositionAmt > 0) == (newAmt > 0) && newAmt != 0 &&
		(delta > 0) == (pos.PositionAmt > 0):
		// Adding to the same side: weighted average entry
		pos.EntryPrice = (pos.EntryPrice*abs(pos.PositionAmt) + fillPrice*abs(delta)) / abs(newAmt)
	case newAmt == 0:
		pos.EntryPrice = 0
	case (pos.PositionAmt > 0) != (newAmt > 0):
		// Flipped through zero: new entry at fill price
		pos.EntryPrice = fillPrice
	}
	pos.PositionAmt = newAmt
	pos.MarkPrice = fillPrice
	pos.UpdateTime = time.Now().UnixMilli()

	if pos.PositionAmt == 0 {
		delete(c.positions, params.Symbol)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (c *FuturesMockClient) CancelFuturesOrder(symbol string, orderId int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, exists := c.orders[orderId]
	if !exists || order.Symbol != symbol {
		return fmt.Errorf("order not found: %d", orderId)
	}

	order.Status = string(FuturesOrderStatusCanceled)
	return nil
}

func (c *FuturesMockClient) CancelAllFuturesOrders(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, order := range c.orders {
		if order.Symbol == symbol && order.Status == string(FuturesOrderStatusNew) {
			order.Status = string(FuturesOrderStatusCanceled)
		}
	}
	return nil
}

func (c *FuturesMockClient) GetOpenOrders(symbol string) ([]FuturesOrder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	orders := make([]FuturesOrder, 0)
	for _, order := range c.orders {
		if order.Status != string(FuturesOrderStatusNew) {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (c *FuturesMockClient) GetOrder(symbol string, orderId int64) (*FuturesOrder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	order, exists := c.orders[orderId]
	if !exists || order.Symbol != symbol {
		return nil, fmt.Errorf("order not found: %d", orderId)
	}

	cp := *order
	return &cp, nil
}

// ==================== MARKET DATA ====================

func (c *FuturesMockClient) GetMarkPrice(symbol string) (*MarkPrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, err := c.currentPriceLocked(symbol)
	if err != nil {
		return nil, err
	}

	return &MarkPrice{
		Symbol:    symbol,
		MarkPrice: price,
		Time:      time.Now().UnixMilli(),
	}, nil
}

func (c *FuturesMockClient) GetAllMarkPrices() ([]MarkPrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now().UnixMilli()
	prices := make([]MarkPrice, 0, len(c.markPrices))
	for symbol, price := range c.markPrices {
		prices = append(prices, MarkPrice{
			Symbol:    symbol,
			MarkPrice: price,
			Time:      now,
		})
	}
	return prices, nil
}

func (c *FuturesMockClient) GetFuturesCurrentPrice(symbol string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPriceLocked(symbol)
}

// ==================== EXCHANGE INFO ====================

func (c *FuturesMockClient) GetFuturesExchangeInfo() (*FuturesExchangeInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]FuturesSymbolInfo, 0, len(c.markPrices))
	for symbol := range c.markPrices {
		symbols = append(symbols, FuturesSymbolInfo{
			Symbol:            symbol,
			Status:            "TRADING",
			QuoteAsset:        "USDT",
			MarginAsset:       "USDT",
			PricePrecision:    2,
			QuantityPrecision: 3,
			Filters: []FuturesSymbolFilter{
				{FilterType: "LOT_SIZE", MinQty: "0.001", MaxQty: "10000", StepSize: "0.001"},
				{FilterType: "PRICE_FILTER", MinPrice: "0.01", TickSize: "0.01"},
			},
		})
	}

	return &FuturesExchangeInfo{
		ServerTime: time.Now().UnixMilli(),
		Symbols:    symbols,
		Timezone:   "UTC",
	}, nil
}

func (c *FuturesMockClient) GetFuturesSymbols() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.markPrices))
	for symbol := range c.markPrices {
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}
