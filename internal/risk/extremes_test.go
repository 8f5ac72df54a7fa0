package risk

import (
	"testing"

	"tv-trading-bot/internal/database"
)

func TestExternalTrackerFirstObservation(t *testing.T) {
	tracker := NewExternalTracker()

	extreme, first := tracker.Observe("BTCUSDT", database.SideLong, 100, 101)
	if !first {
		t.Fatal("first observation must report first = true")
	}
	if extreme != 101 {
		t.Errorf("extreme = %v, want 101", extreme)
	}
}

func TestExternalTrackerMonotonicPerSide(t *testing.T) {
	tracker := NewExternalTracker()
	tracker.Observe("BTCUSDT", database.SideLong, 100, 101)

	extreme, first := tracker.Observe("BTCUSDT", database.SideLong, 100, 103)
	if first {
		t.Fatal("second observation must not be first")
	}
	if extreme != 103 {
		t.Errorf("extreme = %v, want 103", extreme)
	}

	// A retrace never lowers a long extreme.
	extreme, _ = tracker.Observe("BTCUSDT", database.SideLong, 100, 99)
	if extreme != 103 {
		t.Errorf("extreme after retrace = %v, want 103", extreme)
	}

	// Short side tracks its own minimum independently.
	tracker.Observe("BTCUSDT", database.SideShort, 100, 98)
	extreme, _ = tracker.Observe("BTCUSDT", database.SideShort, 100, 99)
	if extreme != 98 {
		t.Errorf("short extreme = %v, want 98", extreme)
	}
}

func TestExternalTrackerEntryDivergenceResets(t *testing.T) {
	tracker := NewExternalTracker()
	tracker.Observe("ETHUSDT", database.SideLong, 100, 110)

	// A 0.2% entry change exceeds the tolerance and restarts tracking.
	extreme, first := tracker.Observe("ETHUSDT", database.SideLong, 100.2, 101)
	if !first {
		t.Fatal("divergent entry must restart tracking")
	}
	if extreme != 101 {
		t.Errorf("extreme after reset = %v, want 101", extreme)
	}

	// A change within tolerance keeps the accumulated extreme.
	extreme, first = tracker.Observe("ETHUSDT", database.SideLong, 100.2000001, 100.5)
	if first {
		t.Fatal("in-tolerance entry must not restart tracking")
	}
	if extreme != 101 {
		t.Errorf("extreme = %v, want 101", extreme)
	}
}

func TestExternalTrackerRemoveAndPrune(t *testing.T) {
	tracker := NewExternalTracker()
	tracker.Observe("BTCUSDT", database.SideLong, 100, 101)
	tracker.Observe("ETHUSDT", database.SideShort, 50, 49)
	tracker.Observe("SOLUSDT", database.SideLong, 10, 11)

	tracker.Remove("BTCUSDT", database.SideLong)
	if tracker.Len() != 2 {
		t.Fatalf("len after remove = %d, want 2", tracker.Len())
	}

	alive := map[string]struct{}{
		trackerKey("ETHUSDT", database.SideShort): {},
	}
	tracker.Prune(alive)
	if tracker.Len() != 1 {
		t.Fatalf("len after prune = %d, want 1", tracker.Len())
	}

	// The survivor keeps its state.
	extreme, first := tracker.Observe("ETHUSDT", database.SideShort, 50, 49.5)
	if first || extreme != 49 {
		t.Errorf("survivor state lost: extreme = %v, first = %v", extreme, first)
	}
}
