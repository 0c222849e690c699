package trader

import (
	"math"
	"sync"

	"github.com/outerspatial/bazaarsim/pkg/comms"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

// PriceModel is the per-agent rolling window of observed trade prices, one
// entry per traded unit, bounded to the internal lookback.
type PriceModel struct {
	mu       sync.Mutex
	lookback int
	observed map[string][]float64
}

func NewPriceModel(lookback int) *PriceModel {
	return &PriceModel{lookback: lookback, observed: make(map[string][]float64)}
}

// Seed primes a commodity's range before any trades have been observed.
func (m *PriceModel) Seed(commodity string, lo, hi float64) {
	m.mu.Lock()
	m.observed[commodity] = []float64{lo, hi}
	m.mu.Unlock()
}

// Observe appends quantity copies of the fill price, evicting the oldest
// entries beyond the lookback.
func (m *PriceModel) Observe(commodity string, price float64, quantity int) {
	if quantity <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.observed[commodity]
	for i := 0; i < quantity; i++ {
		window = append(window, price)
	}
	if excess := len(window) - m.lookback; excess > 0 {
		window = window[excess:]
	}
	m.observed[commodity] = window
}

// ObservedRange returns the extrema over the window; ok is false when
// nothing has been observed.
func (m *PriceModel) ObservedRange(commodity string) (lo, hi float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.observed[commodity]
	if len(window) == 0 {
		return 0, 0, false
	}
	lo, hi = window[0], window[0]
	for _, p := range window[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return lo, hi, true
}

// Favorability scores a prospective buy price against the observed range:
// 1 at or below the cheapest observed trade, 0 at or above the dearest.
func (m *PriceModel) Favorability(commodity string, price float64) float64 {
	lo, hi, ok := m.ObservedRange(commodity)
	if !ok {
		return 0
	}
	if hi <= lo {
		if price <= lo {
			return 1
		}
		return 0
	}
	pos := (price - lo) / (hi - lo)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return 1 - pos
}

// generateOffers posts at most one ask and one bid for the commodity,
// driven by surplus/shortage against the inventory's ideal targets.
func (t *AITrader) generateOffers(commodity string) {
	t.mu.Lock()
	surplus := t.inv.Surplus(commodity)
	shortage := t.inv.Shortage(commodity)
	ideal := t.inv.Ideal(commodity)
	stored := t.inv.Query(commodity)
	cost := t.inv.QueryCost(commodity)
	space := t.inv.EmptySpace()
	unitSize := t.inv.Size(commodity)
	balance := t.money
	t.mu.Unlock()

	expiry := util.ToUnixMs(t.clock.Now()) + t.cfg.TickTime.Milliseconds()

	if surplus >= 1 {
		offer := t.createAsk(commodity, surplus, cost, expiry)
		if offer.Quantity > 0 {
			t.sendMessage(comms.NewAskOffer(offer), t.house.ID())
		}
	}

	if ideal > 0 && stored < ideal && space >= unitSize {
		offer := t.createBid(commodity, stored, ideal, shortage, space, unitSize, balance, expiry)
		if offer.Quantity > 0 && offer.UnitPrice > 0 {
			t.sendMessage(comms.NewBidOffer(offer), t.house.ID())
		}
	}
}

// createAsk prices a sale somewhere between "fair" (cost plus margin) and
// the market's recent buy price, and offers the whole surplus.
func (t *AITrader) createAsk(commodity string, surplus int, cost float64, expiry int64) comms.AskOffer {
	fair := cost * 1.15
	marketPrice := t.house.TAverageHistoricalBuyPrice(commodity, t.cfg.ExternalLookback)
	price := fair
	if marketPrice > 0 {
		price = t.rng.Uniform(fair, marketPrice)
	}
	if price < t.econ.MinPrice {
		price = t.econ.MinPrice
	}
	return comms.AskOffer{
		Sender:    t.id,
		Commodity: commodity,
		Quantity:  surplus,
		UnitPrice: price,
		ExpiryMs:  expiry,
	}
}

// createBid scales the recent market price by desperation (low savings or a
// near-empty store push the price up) and sizes the order by how favorable
// that price looks against the observed trading range.
func (t *AITrader) createBid(commodity string, stored, ideal, shortage int, space, unitSize, balance float64, expiry int64) comms.BidOffer {
	fairMid := t.house.TAverageHistoricalPrice(commodity, t.cfg.ExternalLookback)
	fulfillment := float64(stored) / float64(ideal)
	price := clamp(fairMid*t.desperation(balance, fulfillment), t.econ.MinPrice, balance)

	quantity := int(math.Ceil(t.prices.Favorability(commodity, price) * float64(shortage)))

	minLimit := 0
	if stored == 0 {
		minLimit = 1
	}
	maxLimit := shortage
	if bySpace := int(space / unitSize); bySpace < maxLimit {
		maxLimit = bySpace
	}
	if quantity < minLimit {
		quantity = minLimit
	}
	if quantity > maxLimit {
		quantity = maxLimit
	}

	return comms.BidOffer{
		Sender:    t.id,
		Commodity: commodity,
		Quantity:  quantity,
		UnitPrice: price,
		ExpiryMs:  expiry,
	}
}

// desperation is >= 0 and grows as savings shrink (measured in days of idle
// tax) and as fulfillment falls below one half.
func (t *AITrader) desperation(balance, fulfillment float64) float64 {
	daysSavings := balance / t.econ.IdleTax
	savingsTerm := 1.0
	if daysSavings > 0 {
		savingsTerm = 5/(daysSavings*daysSavings) + 1
	}
	x := 0.4 * (fulfillment - 0.5)
	needTerm := 1 - x/(1+math.Abs(x))
	return savingsTerm * needTerm
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
