package trader

import "github.com/outerspatial/bazaarsim/pkg/util"

// Role is one production recipe, run once per agent tick. Implementations
// consume and produce through the trader's synchronized mutators and
// accumulate the cycle's input cost, which Produce stamps onto the output.
type Role interface {
	TickRole(t *AITrader)
}

const toolBreakChance = 0.1

// consume takes amount units with probability chance, folding their carried
// cost into the cycle's cost accumulator.
func consume(t *AITrader, rng *util.Rand, commodity string, amount int, chance float64) {
	if !rng.Chance(chance) {
		return
	}
	t.TryTakeCommodity(commodity, amount, 0, false)
	t.trackCosts += float64(amount) * t.QueryCost(commodity)
}

// produce adds output units priced at this cycle's accumulated cost per
// unit. Overflowing the inventory triggers the overproduction markdown.
func produce(t *AITrader, commodity string, amount int) {
	if t.trackCosts < 1 {
		t.trackCosts = 1
	}
	t.TryAddCommodity(commodity, amount, t.trackCosts/float64(amount), false)
	t.trackCosts = 0
}

// loseMoney charges the idle tax; the cost carries into the next productive
// cycle.
func loseMoney(t *AITrader, amount float64) {
	t.ForceTakeMoney(amount)
	t.trackCosts += amount
}

// RoleFor returns the recipe for a producer class name, or nil if unknown.
func RoleFor(className string, rng *util.Rand) Role {
	switch className {
	case "farmer":
		return &Farmer{rng: rng}
	case "woodcutter":
		return &Woodcutter{rng: rng}
	case "composter":
		return &Composter{rng: rng}
	case "miner":
		return &Miner{rng: rng}
	case "refiner":
		return &Refiner{rng: rng}
	case "blacksmith":
		return &Blacksmith{rng: rng}
	default:
		return nil
	}
}

// Farmer turns fertilizer and wood into food; tools multiply the yield.
type Farmer struct{ rng *util.Rand }

func (r *Farmer) TickRole(t *AITrader) {
	hasWood := t.Query("wood") > 0
	hasTools := t.Query("tools") > 0
	hasFertilizer := t.Query("fertilizer") > 0

	if !hasFertilizer || !hasWood {
		loseMoney(t, t.econ.IdleTax)
		return
	}
	consume(t, r.rng, "fertilizer", 1, 1)
	consume(t, r.rng, "wood", 1, 1)
	if hasTools {
		consume(t, r.rng, "tools", 1, toolBreakChance)
		produce(t, "food", 6)
	} else {
		produce(t, "food", 3)
	}
}

type Woodcutter struct{ rng *util.Rand }

func (r *Woodcutter) TickRole(t *AITrader) {
	if t.Query("food") == 0 {
		loseMoney(t, t.econ.IdleTax)
		return
	}
	consume(t, r.rng, "food", 1, 1)
	if t.Query("tools") > 0 {
		consume(t, r.rng, "tools", 1, toolBreakChance)
		produce(t, "wood", 2)
	} else {
		produce(t, "wood", 1)
	}
}

type Composter struct{ rng *util.Rand }

func (r *Composter) TickRole(t *AITrader) {
	if t.Query("food") == 0 {
		loseMoney(t, t.econ.IdleTax)
		return
	}
	consume(t, r.rng, "food", 1, 1)
	produce(t, "fertilizer", 1)
}

type Miner struct{ rng *util.Rand }

func (r *Miner) TickRole(t *AITrader) {
	if t.Query("food") == 0 {
		loseMoney(t, t.econ.IdleTax)
		return
	}
	consume(t, r.rng, "food", 1, 1)
	if t.Query("tools") > 0 {
		consume(t, r.rng, "tools", 1, toolBreakChance)
		produce(t, "ore", 4)
	} else {
		produce(t, "ore", 2)
	}
}

// Refiner smelts however much ore it holds; without tools throughput caps
// at two units per tick.
type Refiner struct{ rng *util.Rand }

func (r *Refiner) TickRole(t *AITrader) {
	ore := t.Query("ore")
	if t.Query("food") == 0 || ore == 0 {
		loseMoney(t, t.econ.IdleTax)
		return
	}
	consume(t, r.rng, "food", 1, 1)
	k := ore
	if t.Query("tools") > 0 {
		consume(t, r.rng, "tools", 1, toolBreakChance)
	} else if k > 2 {
		k = 2
	}
	consume(t, r.rng, "ore", k, 1)
	produce(t, "metal", k)
}

type Blacksmith struct{ rng *util.Rand }

func (r *Blacksmith) TickRole(t *AITrader) {
	metal := t.Query("metal")
	if t.Query("food") == 0 || metal == 0 {
		loseMoney(t, t.econ.IdleTax)
		return
	}
	consume(t, r.rng, "food", 1, 1)
	consume(t, r.rng, "metal", metal, 1)
	produce(t, "tools", metal)
}
