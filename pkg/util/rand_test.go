package util

import (
	"testing"
	"time"
)

func TestChance(t *testing.T) {
	r := NewRand(1)
	if !r.Chance(1) {
		t.Fatal("certain chance failed")
	}
	if r.Chance(0) {
		t.Fatal("impossible chance succeeded")
	}
}

func TestUniformBoundsEitherOrder(t *testing.T) {
	r := NewRand(1)
	for i := 0; i < 100; i++ {
		v := r.Uniform(10, 2)
		if v < 2 || v >= 10 {
			t.Fatalf("draw %v outside [2, 10)", v)
		}
	}
}

func TestWeightedChoice(t *testing.T) {
	r := NewRand(1)
	if got := r.WeightedChoice([]float64{0, 0, 1}); got != 2 {
		t.Fatalf("choice = %d, want 2", got)
	}
	if got := r.WeightedChoice(nil); got != -1 {
		t.Fatalf("empty weights = %d, want -1", got)
	}
	if got := r.WeightedChoice([]float64{0, 0}); got != -1 {
		t.Fatalf("zero weights = %d, want -1", got)
	}

	// All-equal weights hit every index eventually.
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[r.WeightedChoice([]float64{1, 1, 1})] = true
	}
	if len(seen) != 3 {
		t.Fatalf("seen = %v, want all three indices", seen)
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(time.UnixMilli(1000))
	if got := ToUnixMs(c.Now()); got != 1000 {
		t.Fatalf("now = %d, want 1000", got)
	}
	c.Advance(250 * time.Millisecond)
	if got := ToUnixMs(c.Now()); got != 1250 {
		t.Fatalf("now = %d, want 1250", got)
	}
}
