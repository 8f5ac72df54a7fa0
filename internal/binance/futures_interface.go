package binance

// FuturesClient defines the interface for Binance USDT-M Futures API operations
type FuturesClient interface {
	// ==================== ACCOUNT ====================

	// GetFuturesAccountInfo retrieves futures account information including balances
	GetFuturesAccountInfo() (*FuturesAccountInfo, error)

	// GetUSDTBalance fetches the USDT wallet balance from the futures account
	GetUSDTBalance() (float64, error)

	// GetPositions retrieves all futures positions
	GetPositions() ([]FuturesPosition, error)

	// GetPositionBySymbol retrieves position for a specific symbol
	GetPositionBySymbol(symbol string) (*FuturesPosition, error)

	// ==================== LEVERAGE ====================

	// SetLeverage sets the leverage for a symbol (1-125x)
	SetLeverage(symbol string, leverage int) (*LeverageResponse, error)

	// ==================== TRADING ====================

	// PlaceFuturesOrder places a new futures order
	PlaceFuturesOrder(params FuturesOrderParams) (*FuturesOrderResponse, error)

	// CancelFuturesOrder cancels an existing futures order
	CancelFuturesOrder(symbol string, orderId int64) error

	// CancelAllFuturesOrders cancels all open orders for a symbol
	CancelAllFuturesOrders(symbol string) error

	// GetOpenOrders retrieves all open orders for a symbol (empty string for all symbols)
	GetOpenOrders(symbol string) ([]FuturesOrder, error)

	// GetOrder retrieves a specific order
	GetOrder(symbol string, orderId int64) (*FuturesOrder, error)

	// ==================== MARKET DATA ====================

	// GetMarkPrice retrieves the mark price for a symbol
	GetMarkPrice(symbol string) (*MarkPrice, error)

	// GetAllMarkPrices retrieves mark prices for all symbols
	GetAllMarkPrices() ([]MarkPrice, error)

	// GetFuturesCurrentPrice retrieves the last traded price for a symbol
	GetFuturesCurrentPrice(symbol string) (float64, error)

	// ==================== EXCHANGE INFO ====================

	// GetFuturesExchangeInfo retrieves futures exchange information
	GetFuturesExchangeInfo() (*FuturesExchangeInfo, error)

	// GetFuturesSymbols retrieves all available futures trading pairs
	GetFuturesSymbols() ([]string, error)
}

// Compile-time interface checks
var (
	_ FuturesClient = (*FuturesClientImpl)(nil)
	_ FuturesClient = (*FuturesMockClient)(nil)
)
