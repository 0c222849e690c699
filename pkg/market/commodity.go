package market

// Commodity names a tradeable good and the inventory space one unit takes.
type Commodity struct {
	Name string
	Size float64
}

// DefaultCommodities is the good set of the standard simulation.
func DefaultCommodities() []Commodity {
	return []Commodity{
		{Name: "food", Size: 1},
		{Name: "wood", Size: 1},
		{Name: "fertilizer", Size: 1},
		{Name: "ore", Size: 1},
		{Name: "metal", Size: 1},
		{Name: "tools", Size: 1},
	}
}

// ProducerOf maps a commodity to the role class that produces it. Returns
// "" for an unknown commodity.
func ProducerOf(commodity string) string {
	switch commodity {
	case "food":
		return "farmer"
	case "wood":
		return "woodcutter"
	case "fertilizer":
		return "composter"
	case "ore":
		return "miner"
	case "metal":
		return "refiner"
	case "tools":
		return "blacksmith"
	default:
		return ""
	}
}
