// Package risk implements the position risk engine: the stop-state
// calculator, extreme-price tracking, the trailing stop worker and the
// portfolio-level trailing controller.
package risk

import (
	"context"

	"tv-trading-bot/internal/database"
)

// StopMode identifies which stop regime governs a position
type StopMode string

const (
	// StopModeNone means no stop can be computed (bad entry, no config)
	StopModeNone StopMode = "none"

	// StopModeBase is the fixed margin-based stop used before the profit
	// threshold has ever been crossed
	StopModeBase StopMode = "base"

	// StopModeDynamic is the trailing stop that locks in a fraction of the
	// peak favorable excursion
	StopModeDynamic StopMode = "dynamic"
)

// SideSettings holds the trailing parameters for one position side
type SideSettings struct {
	ProfitThresholdPct float64 `json:"profit_threshold_pct"`
	LockRatio          float64 `json:"lock_ratio"`
	BaseStopPct        float64 `json:"base_stop_pct"`
}

// TrailingSettings is the process-wide trailing configuration,
// parameterized independently per side
type TrailingSettings struct {
	Enabled          bool         `json:"enabled"`
	AutoCloseEnabled bool         `json:"auto_close_enabled"`
	Long             SideSettings `json:"long"`
	Short            SideSettings `json:"short"`
}

// SideConfig returns the settings for the given position side
func (s TrailingSettings) SideConfig(side string) SideSettings {
	if side == database.SideShort {
		return s.Short
	}
	return s.Long
}

// StopInput is one position snapshot fed to the calculator
type StopInput struct {
	Side       string  // LONG or SHORT
	EntryPrice float64
	MarkPrice  float64
	Quantity   float64
	Leverage   int // 0 means unknown, default applies

	// ExtremePrice is the persisted best favorable price; nil on the
	// first observation, in which case the mark is used for this call only
	ExtremePrice *float64

	// UnrealizedPnlPct is the live margin-based P&L percentage; when
	// present it is preferred for the threshold decision
	UnrealizedPnlPct *float64

	// Position-level overrides; nil means use global per-side settings.
	// A LockRatioOverride of exactly 0 is a sentinel disabling dynamic
	// mode for this position (base-stop only).
	LockRatioOverride       *float64
	ProfitThresholdOverride *float64
	BaseStopPctOverride     *float64
}

// HasOverride reports whether any position-level override is set.
// Overridden positions get base-stop evaluation even above threshold and
// force trailing on regardless of the global flag.
func (in StopInput) HasOverride() bool {
	return in.LockRatioOverride != nil || in.ProfitThresholdOverride != nil || in.BaseStopPctOverride != nil
}

// StopState is the calculator output for one position at one mark price
type StopState struct {
	Mode      StopMode `json:"mode"`
	StopPrice *float64 `json:"stop_price,omitempty"`

	// Extreme is the updated local extreme; persistence is the caller's job
	Extreme float64 `json:"extreme"`

	// LockRatio is the resolved effective lock ratio; nil means dynamic
	// mode is disabled for this position
	LockRatio *float64 `json:"lock_ratio,omitempty"`

	// FavorablePct is the extreme-based favorable move percentage
	FavorablePct float64 `json:"favorable_pct"`

	// TrailingArmed reports whether dynamic mode is reachable at all
	// (trailing enabled and a usable lock ratio resolved)
	TrailingArmed bool `json:"trailing_armed"`
}

// PositionStore is the persistence surface the worker needs
type PositionStore interface {
	ListOpenPositions(ctx context.Context) ([]*database.Position, error)
	ListOpenPositionsWithStopEnabled(ctx context.Context) ([]*database.Position, error)
	UpdatePositionExtreme(ctx context.Context, id int64, extreme float64) error
	UpdatePositionEntryPrice(ctx context.Context, id int64, entryPrice float64) error
}

// PortfolioStore is the persistence surface the portfolio controller needs
type PortfolioStore interface {
	GetPortfolioConfig(ctx context.Context) (*database.PortfolioTrailingConfig, error)
	UpdatePortfolioConfig(ctx context.Context, c *database.PortfolioTrailingConfig) error
}

// Closer executes position closes on behalf of the risk engine
type Closer interface {
	// ClosePosition closes a tracked position and transitions its row
	ClosePosition(ctx context.Context, pos *database.Position, exitReason string) error

	// CloseExternalPosition closes an exchange position with no tracked
	// row and records a synthetic CLOSED row for the audit trail
	CloseExternalPosition(ctx context.Context, symbol, side string, qty float64, exitReason string) (*database.Position, error)

	// CloseAllPositions force-closes every live exchange position
	CloseAllPositions(ctx context.Context, exitReason string) (int, error)
}
