package database

import "time"

// Position status values
const (
	PositionStatusOpen   = "OPEN"
	PositionStatusClosed = "CLOSED"
	PositionStatusError  = "ERROR"
)

// Position side values
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Exit reasons recorded on position closure
const (
	ExitReasonDynamicStop       = "dynamic_stop"
	ExitReasonBaseStop          = "base_stop"
	ExitReasonManualClose       = "manual_close"
	ExitReasonManualCloseAll    = "manual_close_all"
	ExitReasonTVExit            = "tv_exit"
	ExitReasonTVRebalance       = "tv_rebalance"
	ExitReasonTVReverseToLong   = "tv_reverse_to_long"
	ExitReasonTVReverseToShort  = "tv_reverse_to_short"
	ExitReasonPortfolioTrailing = "portfolio_trailing"
)

// Position is a single exchange position under risk management.
//
// ExtremePrice is the best favorable mark price observed since entry
// (highest for LONG, lowest for SHORT); nil until the first worker tick.
// TrailCallback is the per-position lock ratio override: nil means use the
// global setting, 0 means base-stop only, (0,1] an explicit fraction.
type Position struct {
	ID             int64   `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"` // LONG or SHORT
	Qty            float64 `json:"qty"`
	EntryPrice     float64 `json:"entry_price"`
	Status         string  `json:"status"`
	BinanceOrderID *int64  `json:"binance_order_id,omitempty"`
	ClientOrderID  *string `json:"client_order_id,omitempty"`
	BotID          *int64  `json:"bot_id,omitempty"`
	TVSignalLogID  *int64  `json:"tv_signal_log_id,omitempty"`

	// Risk state
	ExtremePrice          *float64 `json:"extreme_price,omitempty"`
	TrailCallback         *float64 `json:"trail_callback,omitempty"`
	DynProfitThresholdPct *float64 `json:"dyn_profit_threshold_pct,omitempty"`
	BaseStopLossPct       *float64 `json:"base_stop_loss_pct,omitempty"`

	// Feature toggles
	BotStopLossEnabled   bool `json:"bot_stop_loss_enabled"`
	TVSignalCloseEnabled bool `json:"tv_signal_close_enabled"`

	// Exit facts, set only at closure
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	ExitReason *string    `json:"exit_reason,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsLong reports whether the position side is LONG
func (p *Position) IsLong() bool {
	return p.Side == SideLong
}

// SignedQty returns the quantity signed by side (positive long, negative short)
func (p *Position) SignedQty() float64 {
	if p.Side == SideShort {
		return -p.Qty
	}
	return p.Qty
}

// Bot trading modes
const (
	TradingModeAuto     = "auto"
	TradingModeSemiAuto = "semi-auto"
	TradingModeManual   = "manual"
)

// BotConfig defines one trading bot instance. Several bots may share a
// signal config (one strategy, many bot instances).
type BotConfig struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	BotKey   string `json:"bot_key"` // legacy direct-key webhook routing
	Enabled  bool   `json:"enabled"`
	SignalID *int64 `json:"signal_id,omitempty"`

	Symbol        string   `json:"symbol"`
	UseSignalSide bool     `json:"use_signal_side"`
	FixedSide     *string  `json:"fixed_side,omitempty"` // BUY or SELL when UseSignalSide is false
	Qty           float64  `json:"qty"`
	MaxInvestUSDT *float64 `json:"max_invest_usdt,omitempty"`
	Leverage      int      `json:"leverage"`

	UseDynamicStop          bool     `json:"use_dynamic_stop"`
	TrailingCallbackPercent *float64 `json:"trailing_callback_percent,omitempty"`
	BaseStopLossPct         float64  `json:"base_stop_loss_pct"`

	TradingMode string `json:"trading_mode"` // auto, semi-auto, manual

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TVSignalConfig defines a TradingView strategy (signal). The signal key is
// what alert payloads carry; every enabled bot bound to the signal fires.
type TVSignalConfig struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	SignalKey     string  `json:"signal_key"`
	Description   *string `json:"description,omitempty"`
	SymbolHint    *string `json:"symbol_hint,omitempty"`
	TimeframeHint *string `json:"timeframe_hint,omitempty"`
	Enabled       bool    `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TVSignalLog records every webhook signal received, processed or not
type TVSignalLog struct {
	ID           int64    `json:"id"`
	BotKey       *string  `json:"bot_key,omitempty"` // legacy format
	SignalID     *int64   `json:"signal_id,omitempty"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"` // BUY or SELL
	Qty          float64  `json:"qty"`
	PositionSize *float64 `json:"position_size,omitempty"` // target size; >0 long, <0 short, 0 flat

	RawPayload    *string   `json:"raw_payload,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	Processed     bool      `json:"processed"`
	ProcessResult *string   `json:"process_result,omitempty"`
}

// Pending order status values (semi-auto trading mode)
const (
	PendingOrderStatusPending  = "PENDING"
	PendingOrderStatusApproved = "APPROVED"
	PendingOrderStatusRejected = "REJECTED"
	PendingOrderStatusExecuted = "EXECUTED"
	PendingOrderStatusFailed   = "FAILED"
)

// PendingOrder holds a signal awaiting operator approval for bots in
// semi-auto trading mode. The calculated fields carry everything needed
// to execute the trade once approved.
type PendingOrder struct {
	ID            int64    `json:"id"`
	BotID         int64    `json:"bot_id"`
	TVSignalLogID int64    `json:"tv_signal_log_id"`
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	Qty           *float64 `json:"qty,omitempty"`
	PositionSize  *float64 `json:"position_size,omitempty"`

	CalculatedQty   *float64 `json:"calculated_qty,omitempty"`
	CalculatedSide  *string  `json:"calculated_side,omitempty"`
	IsPositionBased bool     `json:"is_position_based"`

	Status       string     `json:"status"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	PositionID   *int64     `json:"position_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PortfolioTrailingConfig is the persisted singleton (id=1) for the
// portfolio-level trailing stop. Runtime watermark state is memory-only.
type PortfolioTrailingConfig struct {
	ID        int64    `json:"id"`
	Enabled   bool     `json:"enabled"`
	TargetPnl *float64 `json:"target_pnl,omitempty"`
	LockRatio *float64 `json:"lock_ratio,omitempty"` // nil = global fallback

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an admin account for the dashboard API
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
