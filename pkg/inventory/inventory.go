// Package inventory implements per-agent commodity stores with capacity,
// ideal targets and amortized acquisition cost. An Inventory is exclusively
// owned by its agent; the agent serializes access.
package inventory

import "math"

// Item tracks one commodity's holdings.
type Item struct {
	Name         string
	Stored       int
	Ideal        int
	OriginalCost float64 // running count-weighted average acquisition price
	Size         float64 // inventory space per unit
}

type Inventory struct {
	Capacity float64
	items    map[string]*Item
}

func New(capacity float64, starting []Item) *Inventory {
	inv := &Inventory{Capacity: capacity, items: make(map[string]*Item, len(starting))}
	for _, it := range starting {
		cp := it
		if cp.Size <= 0 {
			cp.Size = 1
		}
		if cp.OriginalCost <= 0 {
			cp.OriginalCost = 0.1
		}
		inv.items[cp.Name] = &cp
	}
	return inv
}

func (inv *Inventory) Has(name string) bool {
	_, ok := inv.items[name]
	return ok
}

// Add increases the stored count. A positive unitPrice folds into the
// count-weighted average original cost; zero or negative leaves it alone.
// Space constraints are the caller's responsibility.
func (inv *Inventory) Add(name string, quantity int, unitPrice float64) {
	it, ok := inv.items[name]
	if !ok {
		return
	}
	if unitPrice > 0 && quantity > 0 {
		if it.Stored > 0 {
			it.OriginalCost = (it.OriginalCost*float64(it.Stored) + unitPrice*float64(quantity)) / float64(it.Stored+quantity)
		} else {
			it.OriginalCost = unitPrice
		}
	}
	it.Stored += quantity
}

// Take decreases the stored count; original cost is unchanged.
func (inv *Inventory) Take(name string, quantity int) {
	it, ok := inv.items[name]
	if !ok {
		return
	}
	it.Stored -= quantity
	if it.Stored < 0 {
		it.Stored = 0
	}
}

// MarkdownCost applies the overproduction rule: discarding overflow units
// marks the per-unit cost down by 1.3^-overflow.
func (inv *Inventory) MarkdownCost(name string, overflow int) {
	it, ok := inv.items[name]
	if !ok || overflow <= 0 {
		return
	}
	it.OriginalCost *= math.Pow(1.3, -float64(overflow))
}

func (inv *Inventory) Query(name string) int {
	if it, ok := inv.items[name]; ok {
		return it.Stored
	}
	return 0
}

func (inv *Inventory) QueryCost(name string) float64 {
	if it, ok := inv.items[name]; ok {
		return it.OriginalCost
	}
	return 0
}

func (inv *Inventory) SetCost(name string, cost float64) {
	if it, ok := inv.items[name]; ok {
		it.OriginalCost = cost
	}
}

func (inv *Inventory) Ideal(name string) int {
	if it, ok := inv.items[name]; ok {
		return it.Ideal
	}
	return 0
}

func (inv *Inventory) Size(name string) float64 {
	if it, ok := inv.items[name]; ok {
		return it.Size
	}
	return 0
}

func (inv *Inventory) UsedSpace() float64 {
	var used float64
	for _, it := range inv.items {
		used += float64(it.Stored) * it.Size
	}
	return used
}

func (inv *Inventory) EmptySpace() float64 {
	return inv.Capacity - inv.UsedSpace()
}

func (inv *Inventory) Surplus(name string) int {
	it, ok := inv.items[name]
	if !ok || it.Stored <= it.Ideal {
		return 0
	}
	return it.Stored - it.Ideal
}

func (inv *Inventory) Shortage(name string) int {
	it, ok := inv.items[name]
	if !ok || it.Stored >= it.Ideal {
		return 0
	}
	return it.Ideal - it.Stored
}

// Commodities lists the commodity names this inventory tracks.
func (inv *Inventory) Commodities() []string {
	names := make([]string, 0, len(inv.items))
	for name := range inv.items {
		names = append(names, name)
	}
	return names
}
