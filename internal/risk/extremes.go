package risk

import (
	"fmt"
	"math"
	"sync"

	"tv-trading-bot/internal/database"
)

// entryDivergenceTolerance is the relative entry-price difference beyond
// which an exchange position is treated as a different position than the
// one previously tracked (closed and reopened), resetting its extreme.
const entryDivergenceTolerance = 0.001

type externalEntry struct {
	entryPrice float64
	extreme    float64
}

// ExternalTracker keeps extreme prices for exchange positions that have no
// tracked row, keyed by symbol and side. It is safe for concurrent use,
// though the worker is its only writer in practice.
type ExternalTracker struct {
	mu      sync.Mutex
	entries map[string]*externalEntry
}

// NewExternalTracker creates an empty tracker
func NewExternalTracker() *ExternalTracker {
	return &ExternalTracker{
		entries: make(map[string]*externalEntry),
	}
}

// Observe records a mark price observation for a symbol and side.
// It returns the current extreme and whether this was the first
// observation for the (possibly reset) entry. First observations must not
// be used for trigger evaluation: there is no real excursion yet.
func (t *ExternalTracker) Observe(symbol, side string, entryPrice, markPrice float64) (extreme float64, first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey(symbol, side)
	entry, ok := t.entries[key]
	if !ok || entryDiverged(entry.entryPrice, entryPrice) {
		t.entries[key] = &externalEntry{entryPrice: entryPrice, extreme: markPrice}
		return markPrice, true
	}

	if side == database.SideShort {
		if markPrice < entry.extreme {
			entry.extreme = markPrice
		}
	} else {
		if markPrice > entry.extreme {
			entry.extreme = markPrice
		}
	}
	return entry.extreme, false
}

// Remove drops the tracking entry for a symbol and side
func (t *ExternalTracker) Remove(symbol, side string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, trackerKey(symbol, side))
}

// Prune drops every entry whose key is not in the alive set. The worker
// calls this after each cycle so positions closed on the exchange do not
// leave stale extremes behind.
func (t *ExternalTracker) Prune(alive map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		if _, ok := alive[key]; !ok {
			delete(t.entries, key)
		}
	}
}

// Len returns the number of tracked entries
func (t *ExternalTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func trackerKey(symbol, side string) string {
	return fmt.Sprintf("%s|%s", symbol, side)
}

// entryDiverged compares entry prices relative to their magnitude, with a
// 1.0 floor so near-zero prices do not amplify noise.
func entryDiverged(tracked, observed float64) bool {
	denom := math.Max(math.Max(math.Abs(tracked), math.Abs(observed)), 1.0)
	return math.Abs(tracked-observed)/denom > entryDivergenceTolerance
}
