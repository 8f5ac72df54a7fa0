package risk

import (
	"testing"

	"tv-trading-bot/internal/database"
)

func testSettings() TrailingSettings {
	side := SideSettings{
		ProfitThresholdPct: 1.0,
		LockRatio:          0.5,
		BaseStopPct:        3.0,
	}
	return TrailingSettings{
		Enabled:          true,
		AutoCloseEnabled: true,
		Long:             side,
		Short:            side,
	}
}

func f(v float64) *float64 { return &v }

func TestLongDynamicStopActivatesAndTriggers(t *testing.T) {
	settings := testSettings()

	// Favorable move past the threshold: extreme 102 on a 100 entry.
	state := Compute(StopInput{
		Side:       database.SideLong,
		EntryPrice: 100,
		MarkPrice:  102,
		Quantity:   1,
		Leverage:   20,
	}, settings)

	if state.Mode != StopModeDynamic {
		t.Fatalf("mode = %s, want dynamic", state.Mode)
	}
	if state.Extreme != 102 {
		t.Errorf("extreme = %v, want 102", state.Extreme)
	}
	if state.StopPrice == nil || *state.StopPrice != 101 {
		t.Fatalf("stop price = %v, want 101", state.StopPrice)
	}
	if ShouldTrigger(database.SideLong, 102, state) {
		t.Error("must not trigger while mark is above the stop")
	}

	// Retrace to 100.5 with the extreme persisted at 102.
	state = Compute(StopInput{
		Side:         database.SideLong,
		EntryPrice:   100,
		MarkPrice:    100.5,
		Quantity:     1,
		Leverage:     20,
		ExtremePrice: f(102),
	}, settings)

	if state.Mode != StopModeDynamic {
		t.Fatalf("mode after retrace = %s, want dynamic", state.Mode)
	}
	if *state.StopPrice != 101 {
		t.Errorf("stop after retrace = %v, want 101", *state.StopPrice)
	}
	if !ShouldTrigger(database.SideLong, 100.5, state) {
		t.Error("expected trigger at 100.5 against stop 101")
	}
}

func TestLongBelowThresholdStaysBase(t *testing.T) {
	settings := testSettings()

	state := Compute(StopInput{
		Side:       database.SideLong,
		EntryPrice: 100,
		MarkPrice:  100.9,
		Quantity:   1,
		Leverage:   20,
	}, settings)

	if state.Mode != StopModeBase {
		t.Fatalf("mode = %s, want base", state.Mode)
	}
	// Margin-based distance: entry * pct / (100 * leverage) = 0.15.
	want := 100.9 - 0.15
	if *state.StopPrice != want {
		t.Errorf("base stop = %v, want %v", *state.StopPrice, want)
	}
	if ShouldTrigger(database.SideLong, 100.9, state) {
		t.Error("base stop must not trigger at the extreme itself")
	}
}

func TestShortDynamicStopMirrorsAndStaysDynamic(t *testing.T) {
	settings := testSettings()

	state := Compute(StopInput{
		Side:              database.SideShort,
		EntryPrice:        100,
		MarkPrice:         95,
		Quantity:          1,
		Leverage:          20,
		LockRatioOverride: f(0.6),
	}, settings)

	if state.Mode != StopModeDynamic {
		t.Fatalf("mode = %s, want dynamic", state.Mode)
	}
	if *state.StopPrice != 97 {
		t.Errorf("stop = %v, want 97", *state.StopPrice)
	}

	// Rebound to 98: extreme stays 95, stop stays 97, trigger fires.
	state = Compute(StopInput{
		Side:              database.SideShort,
		EntryPrice:        100,
		MarkPrice:         98,
		Quantity:          1,
		Leverage:          20,
		ExtremePrice:      f(95),
		LockRatioOverride: f(0.6),
	}, settings)

	if state.Mode != StopModeDynamic {
		t.Fatalf("mode after rebound = %s, want dynamic", state.Mode)
	}
	if state.Extreme != 95 {
		t.Errorf("extreme after rebound = %v, want 95", state.Extreme)
	}
	if !ShouldTrigger(database.SideShort, 98, state) {
		t.Error("expected short trigger at 98 against stop 97")
	}

	// Even a rebound past the threshold boundary keeps the regime dynamic:
	// the extreme-based favorable percentage never shrinks.
	state = Compute(StopInput{
		Side:              database.SideShort,
		EntryPrice:        100,
		MarkPrice:         99.5,
		Quantity:          1,
		Leverage:          20,
		ExtremePrice:      f(95),
		LockRatioOverride: f(0.6),
	}, settings)
	if state.Mode != StopModeDynamic {
		t.Errorf("mode = %s, want dynamic to persist", state.Mode)
	}
}

func TestDynamicStopMonotonicNonDecreasing(t *testing.T) {
	settings := testSettings()

	marks := []float64{102, 103, 102.5, 105, 101.2, 110, 104}
	extreme := f(102.0)
	prevStop := 0.0

	for i, mark := range marks {
		state := Compute(StopInput{
			Side:         database.SideLong,
			EntryPrice:   100,
			MarkPrice:    mark,
			Quantity:     1,
			Leverage:     20,
			ExtremePrice: extreme,
		}, settings)
		if state.Mode != StopModeDynamic {
			t.Fatalf("tick %d: mode = %s, want dynamic", i, state.Mode)
		}
		if *state.StopPrice < prevStop {
			t.Fatalf("tick %d: stop %v dropped below earlier %v", i, *state.StopPrice, prevStop)
		}
		prevStop = *state.StopPrice
		extreme = &state.Extreme
	}
}

func TestLockRatioZeroSentinelDisablesDynamic(t *testing.T) {
	settings := testSettings()

	state := Compute(StopInput{
		Side:              database.SideLong,
		EntryPrice:        100,
		MarkPrice:         110, // 10% favorable, far past threshold
		Quantity:          1,
		Leverage:          20,
		LockRatioOverride: f(0),
	}, settings)

	if state.Mode == StopModeDynamic {
		t.Fatal("lock ratio 0 must never produce dynamic mode")
	}
	// The override forces base evaluation even above threshold.
	if state.Mode != StopModeBase {
		t.Errorf("mode = %s, want base", state.Mode)
	}
	if state.TrailingArmed {
		t.Error("trailing must not be armed with lock ratio 0")
	}
}

func TestLockRatioClampedToOne(t *testing.T) {
	settings := testSettings()

	state := Compute(StopInput{
		Side:              database.SideLong,
		EntryPrice:        100,
		MarkPrice:         105,
		Quantity:          1,
		Leverage:          20,
		LockRatioOverride: f(1.5),
	}, settings)

	if state.Mode != StopModeDynamic {
		t.Fatalf("mode = %s, want dynamic", state.Mode)
	}
	// Clamped lock 1.0 pins the stop to the extreme.
	if *state.StopPrice != 105 {
		t.Errorf("stop = %v, want 105", *state.StopPrice)
	}
}

func TestNonPositiveEntryYieldsNone(t *testing.T) {
	settings := testSettings()

	for _, entry := range []float64{0, -10} {
		state := Compute(StopInput{
			Side:       database.SideLong,
			EntryPrice: entry,
			MarkPrice:  100,
			Quantity:   1,
			Leverage:   20,
		}, settings)
		if state.Mode != StopModeNone {
			t.Errorf("entry %v: mode = %s, want none", entry, state.Mode)
		}
		if state.StopPrice != nil {
			t.Errorf("entry %v: stop price must be nil", entry)
		}
	}
}

func TestFirstObservationUsesMarkAsExtreme(t *testing.T) {
	settings := testSettings()

	state := Compute(StopInput{
		Side:       database.SideLong,
		EntryPrice: 100,
		MarkPrice:  100.2,
		Quantity:   1,
		Leverage:   20,
	}, settings)

	if state.Extreme != 100.2 {
		t.Errorf("extreme = %v, want mark 100.2", state.Extreme)
	}
}

func TestUnrealizedPnlPctPreferredViaRatioScaling(t *testing.T) {
	settings := testSettings()

	// Price moved only 0.5% but the margin-based live percentage is 10%;
	// rescaled to the extreme it is 40%, well past the threshold.
	state := Compute(StopInput{
		Side:             database.SideLong,
		EntryPrice:       100,
		MarkPrice:        100.5,
		Quantity:         1,
		Leverage:         20,
		ExtremePrice:     f(102),
		UnrealizedPnlPct: f(10),
	}, settings)

	if state.Mode != StopModeDynamic {
		t.Fatalf("mode = %s, want dynamic", state.Mode)
	}
	if *state.StopPrice != 101 {
		t.Errorf("stop = %v, want 101", *state.StopPrice)
	}
}

func TestMarkAtEntryUsesLivePctDirectly(t *testing.T) {
	settings := testSettings()

	state := Compute(StopInput{
		Side:             database.SideLong,
		EntryPrice:       100,
		MarkPrice:        100,
		Quantity:         1,
		Leverage:         20,
		ExtremePrice:     f(102),
		UnrealizedPnlPct: f(2),
	}, settings)

	// Live percentage 2% >= 1% threshold, no rescaling possible at entry.
	if state.Mode != StopModeDynamic {
		t.Errorf("mode = %s, want dynamic", state.Mode)
	}
}

func TestGlobalFlagOffOverrideForcesTrailing(t *testing.T) {
	settings := testSettings()
	settings.Enabled = false

	// No override: trailing cannot activate.
	state := Compute(StopInput{
		Side:       database.SideLong,
		EntryPrice: 100,
		MarkPrice:  105,
		Quantity:   1,
		Leverage:   20,
	}, settings)
	if state.Mode == StopModeDynamic {
		t.Fatal("dynamic must not activate with global trailing off and no override")
	}

	// Position-level lock ratio forces trailing on.
	state = Compute(StopInput{
		Side:              database.SideLong,
		EntryPrice:        100,
		MarkPrice:         105,
		Quantity:          1,
		Leverage:          20,
		LockRatioOverride: f(0.5),
	}, settings)
	if state.Mode != StopModeDynamic {
		t.Errorf("mode = %s, want dynamic via override", state.Mode)
	}
}

func TestBaseStopSkippedWhenUncomputable(t *testing.T) {
	settings := testSettings()

	// Quantity unknown: the margin-based distance cannot be computed and
	// the position degrades to none rather than erroring.
	state := Compute(StopInput{
		Side:       database.SideLong,
		EntryPrice: 100,
		MarkPrice:  100.5,
		Leverage:   20,
	}, settings)

	if state.Mode != StopModeNone {
		t.Errorf("mode = %s, want none", state.Mode)
	}
}

func TestZeroBaseStopPctYieldsNoneBelowThreshold(t *testing.T) {
	settings := testSettings()
	settings.Long.BaseStopPct = 0

	state := Compute(StopInput{
		Side:       database.SideLong,
		EntryPrice: 100,
		MarkPrice:  100.5,
		Quantity:   1,
		Leverage:   20,
	}, settings)

	if state.Mode != StopModeNone {
		t.Errorf("mode = %s, want none", state.Mode)
	}
}
