package trader

import (
	"testing"

	"github.com/outerspatial/bazaarsim/params"
	"github.com/outerspatial/bazaarsim/pkg/inventory"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

// An agent that can never produce pays the idle tax every tick until broke,
// then self-destructs with exactly one shutdown notification.
func TestIdleTaxDeathSpiral(t *testing.T) {
	h := newTestHouse()
	inv := []inventory.Item{
		{Name: "fertilizer", Stored: 0, Ideal: 0, Size: 1},
		{Name: "food", Stored: 0, Ideal: 5, Size: 1},
	}
	starved := hire(h, 1, "composter", inv, 40) // first ready tick: 40 -> 20

	if got := starved.Money(); got != 20 {
		t.Fatalf("money after first idle tick = %v, want 20", got)
	}
	if starved.Destroyed() {
		t.Fatal("trader died early")
	}

	// Second idle tick drains the balance to zero: self-destruct.
	if alive := starved.TickOnce(); alive {
		t.Fatal("expected tick to report destruction")
	}
	if !starved.Destroyed() {
		t.Fatal("trader should be destroyed")
	}
	if got := starved.Money(); got != 0 {
		t.Fatalf("money at death = %v, want 0", got)
	}

	// The single notification deregisters it.
	h.PumpOnce()
	if got := h.NumTraders(); got != 0 {
		t.Fatalf("NumTraders = %d, want 0", got)
	}
	if got := h.NumDeaths(); got != 1 {
		t.Fatalf("deaths = %d, want 1", got)
	}

	// Further ticks and destroys are no-ops: still exactly one death.
	starved.TickOnce()
	starved.Destroy()
	h.PumpOnce()
	if got := h.NumDeaths(); got != 1 {
		t.Fatalf("deaths after repeat destroy = %d, want 1", got)
	}
}

func TestRejectedRegistrationDestroysTrader(t *testing.T) {
	h := newTestHouse()
	inv := []inventory.Item{{Name: "food", Stored: 5, Ideal: 5, Size: 1}}

	first := hire(h, 7, "composter", inv, 100)
	if first.Destroyed() {
		t.Fatal("first trader should be alive")
	}

	// Same id again: the house rejects directly and the trader gives up.
	second := hire(h, 7, "composter", inv, 100)
	if !second.Destroyed() {
		t.Fatal("second trader should be destroyed after rejection")
	}
	if got := h.NumTraders(); got != 1 {
		t.Fatalf("NumTraders = %d, want 1", got)
	}
}

// Settlement mutators respect atomic semantics under the trader's lock.
func TestTraderSettlementSurface(t *testing.T) {
	h := newTestHouse()
	inv := []inventory.Item{{Name: "food", Stored: 5, Ideal: 5, Size: 1}}
	cfg := params.Default()
	tr, err := NewAITrader(1, h, nil, "test", cfg.Trader, cfg.Economy, inv, util.RealClock{}, util.NewRand(1), util.NopLogger())
	if err != nil {
		t.Fatalf("new trader: %v", err)
	}

	if tr.TryTakeMoney(1000, true) != 0 {
		t.Fatal("atomic overdraft should take nothing")
	}
	if got := tr.Money(); got != 100 {
		t.Fatalf("money = %v, want 100", got)
	}
	if got := tr.TryTakeMoney(1000, false); got != 100 {
		t.Fatalf("non-atomic take = %v, want 100", got)
	}
	tr.AddMoney(50)
	if !tr.HasMoney(50) || tr.HasMoney(51) {
		t.Fatal("HasMoney mismatch")
	}

	if tr.TryTakeCommodity("food", 9, 0, true) != 0 {
		t.Fatal("atomic overtake should take nothing")
	}
	if got := tr.TryTakeCommodity("food", 9, 0, false); got != 5 {
		t.Fatalf("non-atomic take = %d, want 5", got)
	}
	if tr.TryTakeCommodity("missing", 1, 0, false) != 0 {
		t.Fatal("unknown commodity should transfer nothing")
	}
}

// Production overflowing the inventory saturates at capacity and marks the
// unit cost down exponentially in the discarded quantity.
func TestOverproductionSaturatesAndMarksDown(t *testing.T) {
	h := newTestHouse()
	inv := []inventory.Item{{Name: "food", Stored: 0, Ideal: 0, Size: 1, OriginalCost: 1}}
	cfg := params.Default()
	econ := cfg.Economy
	econ.InvCapacity = 3
	tr, err := NewAITrader(1, h, nil, "test", cfg.Trader, econ, inv, util.RealClock{}, util.NewRand(1), util.NopLogger())
	if err != nil {
		t.Fatalf("new trader: %v", err)
	}
	costBefore := tr.QueryCost("food")

	added := tr.TryAddCommodity("food", 5, 0, false)
	if added != 3 {
		t.Fatalf("added = %d, want 3 (capacity)", added)
	}
	if got := tr.Query("food"); got != 3 {
		t.Fatalf("stored = %d, want 3", got)
	}
	want := costBefore / (1.3 * 1.3)
	if got := tr.QueryCost("food"); got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("cost = %v, want %v (1.3^-2 markdown)", got, want)
	}

	// Atomic adds never overflow.
	if tr.TryAddCommodity("food", 1, 0, true) != 0 {
		t.Fatal("atomic add into a full inventory should fail")
	}
}
