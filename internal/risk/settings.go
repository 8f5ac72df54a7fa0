package risk

import (
	"context"
	"fmt"
	"sync"

	"tv-trading-bot/config"
	"tv-trading-bot/internal/cache"

	"github.com/rs/zerolog"
)

// SettingsStore holds the process-wide trailing configuration. Reads come
// from every worker tick; writes come from the settings API. Updates
// replace the whole value so a reader never observes a half-applied change.
type SettingsStore struct {
	mu        sync.RWMutex
	settings  TrailingSettings
	overrides map[string]SymbolOverride
	cache     *cache.CacheService
	logger    zerolog.Logger
}

// NewSettingsStore seeds the store from config defaults, then overlays any
// settings previously persisted to Redis.
func NewSettingsStore(cfg config.TrailingConfig, cacheService *cache.CacheService, logger zerolog.Logger) *SettingsStore {
	side := SideSettings{
		ProfitThresholdPct: cfg.ProfitThresholdPct,
		LockRatio:          cfg.LockRatio,
		BaseStopPct:        cfg.BaseStopLossPct,
	}
	s := &SettingsStore{
		settings: TrailingSettings{
			Enabled:          cfg.Enabled,
			AutoCloseEnabled: true,
			Long:             side,
			Short:            side,
		},
		overrides: make(map[string]SymbolOverride),
		cache:     cacheService,
		logger:    logger.With().Str("component", "risk_settings").Logger(),
	}
	s.restore()
	return s
}

// Get returns a copy of the current settings
func (s *SettingsStore) Get() TrailingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings in full
func (s *SettingsStore) Update(settings TrailingSettings) error {
	if err := validateSide("long", &settings.Long); err != nil {
		return err
	}
	if err := validateSide("short", &settings.Short); err != nil {
		return err
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.persist(settings)
	return nil
}

// validateSide rejects negative values and clamps lock ratios above 1
func validateSide(name string, side *SideSettings) error {
	if side.ProfitThresholdPct < 0 {
		return fmt.Errorf("%s profit threshold must not be negative", name)
	}
	if side.BaseStopPct < 0 {
		return fmt.Errorf("%s base stop percent must not be negative", name)
	}
	if side.LockRatio < 0 {
		return fmt.Errorf("%s lock ratio must not be negative", name)
	}
	if side.LockRatio > 1 {
		side.LockRatio = 1.0
	}
	return nil
}

func (s *SettingsStore) persist(settings TrailingSettings) {
	if s.cache == nil {
		return
	}
	ctx := context.Background()
	if err := s.cache.SetJSON(ctx, cache.TrailingSettingsKey(), settings, cache.DefaultSettingsTTL); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist trailing settings to cache")
	}
}

func (s *SettingsStore) restore() {
	if s.cache == nil {
		return
	}
	ctx := context.Background()
	var cached TrailingSettings
	if err := s.cache.GetJSON(ctx, cache.TrailingSettingsKey(), &cached); err != nil {
		// Cache miss or unavailable; config defaults stand.
		return
	}
	s.settings = cached
	s.logger.Info().Msg("restored trailing settings from cache")
}
