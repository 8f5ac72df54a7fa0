package risk

import (
	"tv-trading-bot/internal/database"
)

// DefaultLeverage is assumed when the exchange did not report one
const DefaultLeverage = 20

// Compute evaluates the stop state for one position snapshot. It is pure:
// the updated extreme is returned, never persisted here, and no trigger
// decision is made. Callers persist the extreme and apply ShouldTrigger.
func Compute(in StopInput, settings TrailingSettings) StopState {
	long := in.Side != database.SideShort

	// Local extreme for this evaluation. First observation uses the mark.
	best := in.MarkPrice
	if in.ExtremePrice != nil {
		best = *in.ExtremePrice
		if long {
			if in.MarkPrice > best {
				best = in.MarkPrice
			}
		} else {
			if in.MarkPrice < best {
				best = in.MarkPrice
			}
		}
	}

	if in.EntryPrice <= 0 {
		return StopState{Mode: StopModeNone, Extreme: best}
	}

	cfg := settings.SideConfig(in.Side)
	threshold := cfg.ProfitThresholdPct
	if in.ProfitThresholdOverride != nil {
		threshold = *in.ProfitThresholdOverride
	}
	baseStopPct := cfg.BaseStopPct
	if in.BaseStopPctOverride != nil {
		baseStopPct = *in.BaseStopPctOverride
	}
	lockRatio := resolveLockRatio(in.LockRatioOverride, cfg.LockRatio)

	var favorablePct float64
	if long {
		favorablePct = (best - in.EntryPrice) / in.EntryPrice * 100
	} else {
		favorablePct = (in.EntryPrice - best) / in.EntryPrice * 100
	}

	// A position-level override forces trailing on even when the global
	// flag is off, provided a usable lock ratio resolved.
	effectiveTrailing := settings.Enabled || (in.HasOverride() && lockRatio != nil)
	armed := effectiveTrailing && lockRatio != nil

	// Threshold decision uses the extreme-based percentage: once the
	// position has ever been profitable enough, the regime stays dynamic
	// even after price retraces below the threshold.
	thresholdPct := favorablePct
	if in.UnrealizedPnlPct != nil {
		thresholdPct = extremeBasedPnlPct(*in.UnrealizedPnlPct, in.EntryPrice, in.MarkPrice, best, long)
	}

	state := StopState{
		Extreme:       best,
		LockRatio:     lockRatio,
		FavorablePct:  favorablePct,
		TrailingArmed: armed,
	}

	if armed && thresholdPct >= threshold {
		var stop float64
		if long {
			stop = in.EntryPrice + (best-in.EntryPrice)**lockRatio
		} else {
			stop = in.EntryPrice - (in.EntryPrice-best)**lockRatio
		}
		state.Mode = StopModeDynamic
		state.StopPrice = &stop
		return state
	}

	if baseStopPct > 0 && (thresholdPct < threshold || in.HasOverride()) {
		if stop, ok := baseStopPrice(in, best, baseStopPct, long); ok {
			state.Mode = StopModeBase
			state.StopPrice = &stop
			return state
		}
	}

	state.Mode = StopModeNone
	return state
}

// ShouldTrigger reports whether the mark price has reached the active stop
func ShouldTrigger(side string, markPrice float64, state StopState) bool {
	if state.StopPrice == nil {
		return false
	}
	if side == database.SideShort {
		return markPrice >= *state.StopPrice
	}
	return markPrice <= *state.StopPrice
}

// resolveLockRatio applies override-then-global resolution with the 0
// sentinel (dynamic disabled) and (0,1] clamping.
func resolveLockRatio(override *float64, global float64) *float64 {
	raw := global
	if override != nil {
		raw = *override
	}
	if raw <= 0 {
		return nil
	}
	if raw > 1 {
		raw = 1.0
	}
	return &raw
}

// extremeBasedPnlPct rescales a live margin-based P&L percentage to what it
// would be at the tracked extreme. When the mark sits exactly at entry the
// ratio is undefined and the live percentage is used as-is.
func extremeBasedPnlPct(livePct, entry, mark, best float64, long bool) float64 {
	if mark == entry {
		return livePct
	}
	if long {
		return livePct * (best - entry) / (mark - entry)
	}
	return livePct * (entry - best) / (entry - mark)
}

// baseStopPrice computes the margin-based fixed stop. The distance ties
// the stop to a fixed USDT risk amount: margin * pct / 100 spread over the
// position quantity.
func baseStopPrice(in StopInput, best, baseStopPct float64, long bool) (float64, bool) {
	if in.Quantity <= 0 || in.EntryPrice <= 0 {
		return 0, false
	}
	leverage := in.Leverage
	if leverage <= 0 {
		leverage = DefaultLeverage
	}
	margin := in.EntryPrice * in.Quantity / float64(leverage)
	dist := (margin * baseStopPct / 100) / in.Quantity
	if long {
		return best - dist, true
	}
	return best + dist, true
}
