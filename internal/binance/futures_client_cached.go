package binance

import (
	"strings"
	"sync"
	"time"
)

// Default cache TTLs. Mark prices move fast and get a short TTL; exchange
// info (symbol filters) is effectively static.
const (
	markPriceTTL    = 2 * time.Second
	positionsTTL    = 3 * time.Second
	accountInfoTTL  = 5 * time.Second
	exchangeInfoTTL = time.Hour
)

type cachedMarkPrice struct {
	data    *MarkPrice
	fetched time.Time
}

// CachedFuturesClient wraps a FuturesClient with short-TTL read caching.
// The trailing stop worker polls positions and mark prices every few
// seconds per symbol; without caching each cycle burns request weight that
// Binance counts against the per-minute limit.
//
// Write operations pass through and invalidate the user-data caches so a
// freshly placed order is visible on the next read.
type CachedFuturesClient struct {
	client FuturesClient

	mu              sync.RWMutex
	markPrices      map[string]cachedMarkPrice
	positions       []FuturesPosition
	positionsTime   time.Time
	accountInfo     *FuturesAccountInfo
	accountInfoTime time.Time
	exchangeInfo    *FuturesExchangeInfo
	exchangeTime    time.Time
}

var _ FuturesClient = (*CachedFuturesClient)(nil)

// NewCachedFuturesClient wraps a futures client with read caching
func NewCachedFuturesClient(client FuturesClient) *CachedFuturesClient {
	return &CachedFuturesClient{
		client:     client,
		markPrices: make(map[string]cachedMarkPrice),
	}
}

// ==================== ACCOUNT ====================

func (c *CachedFuturesClient) GetFuturesAccountInfo() (*FuturesAccountInfo, error) {
	c.mu.RLock()
	if c.accountInfo != nil && time.Since(c.accountInfoTime) < accountInfoTTL {
		info := c.accountInfo
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	info, err := c.client.GetFuturesAccountInfo()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.accountInfo = info
	c.accountInfoTime = time.Now()
	c.mu.Unlock()
	return info, nil
}

func (c *CachedFuturesClient) GetUSDTBalance() (float64, error) {
	return c.client.GetUSDTBalance()
}

func (c *CachedFuturesClient) GetPositions() ([]FuturesPosition, error) {
	c.mu.RLock()
	if c.positions != nil && time.Since(c.positionsTime) < positionsTTL {
		positions := c.positions
		c.mu.RUnlock()
		return positions, nil
	}
	c.mu.RUnlock()

	positions, err := c.client.GetPositions()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.positions = positions
	c.positionsTime = time.Now()
	c.mu.Unlock()
	return positions, nil
}

func (c *CachedFuturesClient) GetPositionBySymbol(symbol string) (*FuturesPosition, error) {
	positions, err := c.GetPositions()
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)
	for i := range positions {
		if positions[i].Symbol == symbol {
			p := positions[i]
			return &p, nil
		}
	}
	return &FuturesPosition{Symbol: symbol}, nil
}

// ==================== LEVERAGE ====================

func (c *CachedFuturesClient) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	return c.client.SetLeverage(symbol, leverage)
}

// ==================== TRADING ====================

func (c *CachedFuturesClient) PlaceFuturesOrder(params FuturesOrderParams) (*FuturesOrderResponse, error) {
	resp, err := c.client.PlaceFuturesOrder(params)
	if err == nil {
		c.invalidateUserData()
	}
	return resp, err
}

func (c *CachedFuturesClient) CancelFuturesOrder(symbol string, orderId int64) error {
	err := c.client.CancelFuturesOrder(symbol, orderId)
	if err == nil {
		c.invalidateUserData()
	}
	return err
}

func (c *CachedFuturesClient) CancelAllFuturesOrders(symbol string) error {
	err := c.client.CancelAllFuturesOrders(symbol)
	if err == nil {
		c.invalidateUserData()
	}
	return err
}

func (c *CachedFuturesClient) GetOpenOrders(symbol string) ([]FuturesOrder, error) {
	return c.client.GetOpenOrders(symbol)
}

func (c *CachedFuturesClient) GetOrder(symbol string, orderId int64) (*FuturesOrder, error) {
	return c.client.GetOrder(symbol, orderId)
}

// ==================== MARKET DATA ====================

func (c *CachedFuturesClient) GetMarkPrice(symbol string) (*MarkPrice, error) {
	symbol = strings.ToUpper(symbol)

	c.mu.RLock()
	if cached, ok := c.markPrices[symbol]; ok && time.Since(cached.fetched) < markPriceTTL {
		c.mu.RUnlock()
		return cached.data, nil
	}
	c.mu.RUnlock()

	mp, err := c.client.GetMarkPrice(symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.markPrices[symbol] = cachedMarkPrice{data: mp, fetched: time.Now()}
	c.mu.Unlock()
	return mp, nil
}

func (c *CachedFuturesClient) GetAllMarkPrices() ([]MarkPrice, error) {
	prices, err := c.client.GetAllMarkPrices()
	if err != nil {
		return nil, err
	}

	// Seed the per-symbol cache from the bulk response
	now := time.Now()
	c.mu.Lock()
	for i := range prices {
		mp := prices[i]
		c.markPrices[mp.Symbol] = cachedMarkPrice{data: &mp, fetched: now}
	}
	c.mu.Unlock()
	return prices, nil
}

func (c *CachedFuturesClient) GetFuturesCurrentPrice(symbol string) (float64, error) {
	return c.client.GetFuturesCurrentPrice(symbol)
}

// ==================== EXCHANGE INFO ====================

func (c *CachedFuturesClient) GetFuturesExchangeInfo() (*FuturesExchangeInfo, error) {
	c.mu.RLock()
	if c.exchangeInfo != nil && time.Since(c.exchangeTime) < exchangeInfoTTL {
		info := c.exchangeInfo
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	info, err := c.client.GetFuturesExchangeInfo()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.exchangeInfo = info
	c.exchangeTime = time.Now()
	c.mu.Unlock()
	return info, nil
}

func (c *CachedFuturesClient) GetFuturesSymbols() ([]string, error) {
	return c.client.GetFuturesSymbols()
}

func (c *CachedFuturesClient) invalidateUserData() {
	c.mu.Lock()
	c.positions = nil
	c.accountInfo = nil
	c.mu.Unlock()
}
