package neural

import (
	"math"
	"testing"
)

func TestExplorationLinearDecay(t *testing.T) {
	e := NewExplorationSchedule(ExplorationConfig{Start: 1.0, End: 0.1, DecaySteps: 10})

	if got := e.CurrentEpsilon(); got != 1.0 {
		t.Fatalf("initial epsilon = %v, want 1.0", got)
	}
	for i := 0; i < 5; i++ {
		e.Step()
	}
	if got := e.CurrentEpsilon(); math.Abs(got-0.55) > 1e-12 {
		t.Fatalf("epsilon at midpoint = %v, want 0.55", got)
	}
}

func TestExplorationNeverBelowEnd(t *testing.T) {
	e := NewExplorationSchedule(ExplorationConfig{Start: 1.0, End: 0.05, DecaySteps: 10})
	for i := 0; i < 100; i++ {
		if got := e.Step(); got < 0.05 {
			t.Fatalf("epsilon %v fell below end value at step %d", got, i+1)
		}
	}
	if got := e.CurrentEpsilon(); got != 0.05 {
		t.Fatalf("final epsilon = %v, want 0.05", got)
	}
}

func TestExplorationRatios(t *testing.T) {
	e := NewExplorationSchedule(ExplorationConfig{Start: 0.8, End: 0.0, DecaySteps: 4})
	e.Step()
	e.Step()
	if got := e.ExplorationRatio(); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("exploration ratio = %v, want 0.5", got)
	}
	if got := e.ExploitationRatio(); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("exploitation ratio = %v, want 0.5", got)
	}
}

func TestExplorationStateRoundTrip(t *testing.T) {
	e := NewExplorationSchedule(DefaultExplorationConfig())
	for i := 0; i < 7; i++ {
		e.Step()
	}
	st := e.State()

	restored := NewExplorationSchedule(DefaultExplorationConfig())
	restored.Restore(st)
	if restored.CurrentEpsilon() != e.CurrentEpsilon() {
		t.Fatalf("epsilon not restored: %v vs %v", restored.CurrentEpsilon(), e.CurrentEpsilon())
	}
	restored.Step()
	e.Step()
	if restored.CurrentEpsilon() != e.CurrentEpsilon() {
		t.Fatal("restored schedule diverges from original")
	}
}
