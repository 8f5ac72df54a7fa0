package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/events"

	"github.com/rs/zerolog"
)

// PortfolioController applies the trailing-stop idea to the aggregate
// unrealized P&L of every live exchange position. Configuration persists
// in the database; the watermark is memory-only and resets on restart.
type PortfolioController struct {
	store    PortfolioStore
	client   binance.FuturesClient
	settings *SettingsStore
	closer   Closer
	bus      *events.EventBus
	logger   zerolog.Logger

	mu            sync.Mutex
	maxPnlReached *float64
	lastCheckTime time.Time
}

// PortfolioStatus is the runtime view exposed to the API
type PortfolioStatus struct {
	Enabled       bool       `json:"enabled"`
	TargetPnl     *float64   `json:"target_pnl,omitempty"`
	LockRatio     *float64   `json:"lock_ratio,omitempty"`
	MaxPnlReached *float64   `json:"max_pnl_reached,omitempty"`
	SellThreshold *float64   `json:"sell_threshold,omitempty"`
	LastCheckTime *time.Time `json:"last_check_time,omitempty"`
}

// NewPortfolioController creates a portfolio trailing controller
func NewPortfolioController(store PortfolioStore, client binance.FuturesClient, settings *SettingsStore, closer Closer, bus *events.EventBus, logger zerolog.Logger) *PortfolioController {
	return &PortfolioController{
		store:    store,
		client:   client,
		settings: settings,
		closer:   closer,
		bus:      bus,
		logger:   logger.With().Str("component", "portfolio_trailing").Logger(),
	}
}

// Check runs one portfolio evaluation. Called once per worker cycle.
func (p *PortfolioController) Check(ctx context.Context) error {
	cfg, err := p.store.GetPortfolioConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolio config: %w", err)
	}

	if !cfg.Enabled || cfg.TargetPnl == nil {
		p.ResetWatermark()
		return nil
	}

	positions, err := p.client.GetPositions()
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}

	total := 0.0
	live := 0
	for _, pos := range positions {
		if pos.PositionAmt == 0 {
			continue
		}
		total += pos.UnrealizedProfit
		live++
	}

	p.mu.Lock()
	p.lastCheckTime = time.Now()

	if p.maxPnlReached == nil {
		if total >= *cfg.TargetPnl {
			t := total
			p.maxPnlReached = &t
			p.logger.Info().Float64("total_pnl", total).Float64("target", *cfg.TargetPnl).
				Msg("portfolio trailing armed")
		}
		p.mu.Unlock()
		return nil
	}

	// Watermark only rises while armed.
	if total > *p.maxPnlReached {
		t := total
		p.maxPnlReached = &t
	}
	maxPnl := *p.maxPnlReached
	p.mu.Unlock()

	lockRatio := p.effectiveLockRatio(cfg)
	if lockRatio <= 0 {
		return nil
	}

	threshold := maxPnl * lockRatio
	if total > threshold {
		return nil
	}

	p.logger.Warn().Float64("total_pnl", total).Float64("max_pnl", maxPnl).
		Float64("threshold", threshold).Int("positions", live).
		Msg("portfolio trailing triggered, closing all positions")

	closed, closeErr := p.closer.CloseAllPositions(ctx, database.ExitReasonPortfolioTrailing)

	// Disarm regardless of partial close failures; remaining positions
	// fall back to per-position stops until the target is hit again.
	p.ResetWatermark()

	if p.bus != nil {
		p.bus.PublishPortfolioTrigger(total, maxPnl, threshold, closed)
	}
	if closeErr != nil {
		return fmt.Errorf("portfolio close-all finished with errors: %w", closeErr)
	}
	return nil
}

// ResetWatermark clears the armed watermark
func (p *PortfolioController) ResetWatermark() {
	p.mu.Lock()
	p.maxPnlReached = nil
	p.mu.Unlock()
}

// Status returns the runtime status combined with the persisted config
func (p *PortfolioController) Status(ctx context.Context) (*PortfolioStatus, error) {
	cfg, err := p.store.GetPortfolioConfig(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	status := &PortfolioStatus{
		Enabled:       cfg.Enabled,
		TargetPnl:     cfg.TargetPnl,
		LockRatio:     cfg.LockRatio,
		MaxPnlReached: p.maxPnlReached,
	}
	if !p.lastCheckTime.IsZero() {
		t := p.lastCheckTime
		status.LastCheckTime = &t
	}
	if p.maxPnlReached != nil {
		lock := p.effectiveLockRatio(cfg)
		if lock > 0 {
			threshold := *p.maxPnlReached * lock
			status.SellThreshold = &threshold
		}
	}
	return status, nil
}

// effectiveLockRatio resolves the portfolio lock ratio with global fallback
func (p *PortfolioController) effectiveLockRatio(cfg *database.PortfolioTrailingConfig) float64 {
	lock := p.settings.Get().Long.LockRatio
	if cfg.LockRatio != nil {
		lock = *cfg.LockRatio
	}
	if lock > 1 {
		lock = 1.0
	}
	return lock
}
