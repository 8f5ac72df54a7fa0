package risk

import (
	"context"
	"fmt"
	"strings"

	"tv-trading-bot/internal/cache"
)

// SymbolOverride holds per-symbol stop parameters for exchange positions
// that have no tracked row. Nil fields fall through to the global per-side
// settings; a LockRatio of exactly 0 disables dynamic mode for the symbol.
type SymbolOverride struct {
	LockRatio          *float64 `json:"lock_ratio,omitempty"`
	ProfitThresholdPct *float64 `json:"profit_threshold_pct,omitempty"`
	BaseStopPct        *float64 `json:"base_stop_pct,omitempty"`
}

func (o SymbolOverride) empty() bool {
	return o.LockRatio == nil && o.ProfitThresholdPct == nil && o.BaseStopPct == nil
}

// SymbolOverride returns the override for a symbol, loading it from the
// cache on first access.
func (s *SettingsStore) SymbolOverride(symbol string) (SymbolOverride, bool) {
	symbol = strings.ToUpper(symbol)

	s.mu.RLock()
	ov, ok := s.overrides[symbol]
	s.mu.RUnlock()
	if ok {
		return ov, !ov.empty()
	}

	ov = s.restoreOverride(symbol)

	s.mu.Lock()
	s.overrides[symbol] = ov
	s.mu.Unlock()
	return ov, !ov.empty()
}

// SetSymbolOverride validates and stores the override for a symbol
func (s *SettingsStore) SetSymbolOverride(symbol string, ov SymbolOverride) error {
	symbol = strings.ToUpper(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if ov.LockRatio != nil && (*ov.LockRatio < 0 || *ov.LockRatio > 1) {
		return fmt.Errorf("lock ratio must be within [0, 1]")
	}
	if ov.ProfitThresholdPct != nil && *ov.ProfitThresholdPct < 0 {
		return fmt.Errorf("profit threshold must not be negative")
	}
	if ov.BaseStopPct != nil && *ov.BaseStopPct < 0 {
		return fmt.Errorf("base stop percent must not be negative")
	}

	s.mu.Lock()
	s.overrides[symbol] = ov
	s.mu.Unlock()

	if s.cache != nil {
		ctx := context.Background()
		if err := s.cache.SetJSON(ctx, cache.SymbolOverridesKey(symbol), ov, cache.DefaultSettingsTTL); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist symbol override to cache")
		}
	}
	return nil
}

// DeleteSymbolOverride removes the override for a symbol
func (s *SettingsStore) DeleteSymbolOverride(symbol string) {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	s.overrides[symbol] = SymbolOverride{}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(context.Background(), cache.SymbolOverridesKey(symbol)); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to delete symbol override from cache")
		}
	}
}

// SymbolOverrides returns a copy of all non-empty overrides known in memory
func (s *SettingsStore) SymbolOverrides() map[string]SymbolOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]SymbolOverride)
	for symbol, ov := range s.overrides {
		if !ov.empty() {
			out[symbol] = ov
		}
	}
	return out
}

func (s *SettingsStore) restoreOverride(symbol string) SymbolOverride {
	var ov SymbolOverride
	if s.cache == nil {
		return ov
	}
	if err := s.cache.GetJSON(context.Background(), cache.SymbolOverridesKey(symbol), &ov); err != nil {
		// Cache miss or unavailable; no override.
		return SymbolOverride{}
	}
	return ov
}
