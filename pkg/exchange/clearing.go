package exchange

import (
	"sort"

	"github.com/outerspatial/bazaarsim/pkg/comms"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

// resolveOffers clears one commodity's book: sort, validate, match at the
// resting ask's price, settle atomically, then retain unexpired remainders
// and record the tick's history samples.
func (h *House) resolveOffers(commodity string) {
	h.bookMu.Lock()
	defer h.bookMu.Unlock()

	resolveTime := util.ToUnixMs(h.clock.Now())

	bids := h.bidBook[commodity]
	asks := h.askBook[commodity]

	// Highest buyer first, cheapest seller first. Ties keep insertion order.
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].offer.UnitPrice > bids[j].offer.UnitPrice
	})
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].offer.UnitPrice < asks[j].offer.UnitPrice
	})

	var (
		numTrades       int
		unitsTraded     float64
		avgPriceTick    float64
		avgBuyPriceTick float64
		supply          float64
		demand          float64
	)

	valid := bids[:0]
	for i := range bids {
		if !h.validateBid(&bids[i], resolveTime) {
			h.closeBid(bids[i])
			continue
		}
		demand += float64(bids[i].offer.Quantity)
		valid = append(valid, bids[i])
	}
	bids = valid

	validAsks := asks[:0]
	for i := range asks {
		if !h.validateAsk(&asks[i], resolveTime) {
			h.closeAsk(asks[i])
			continue
		}
		supply += float64(asks[i].offer.Quantity)
		validAsks = append(validAsks, asks[i])
	}
	asks = validAsks

	for len(bids) > 0 && len(asks) > 0 {
		bid := &bids[0]
		ask := &asks[0]
		if ask.offer.UnitPrice > bid.offer.UnitPrice {
			break
		}

		quantity := bid.offer.Quantity
		if ask.offer.Quantity < quantity {
			quantity = ask.offer.Quantity
		}
		clearingPrice := ask.offer.UnitPrice

		if quantity > 0 {
			switch h.makeTransaction(commodity, bid.offer.Sender, ask.offer.Sender, quantity, clearingPrice) {
			case txSellerFailed:
				h.closeAsk(*ask)
				asks = asks[1:]
				goto retain
			case txBuyerFailed:
				h.closeBid(*bid)
				bids = bids[1:]
				goto retain
			}

			bid.offer.Quantity -= quantity
			ask.offer.Quantity -= quantity
			bid.result.RecordTrade(quantity, clearingPrice)
			ask.result.RecordTrade(quantity, clearingPrice)

			q := float64(quantity)
			avgPriceTick = (avgPriceTick*unitsTraded + clearingPrice*q) / (unitsTraded + q)
			avgBuyPriceTick = (avgBuyPriceTick*unitsTraded + bid.offer.UnitPrice*q) / (unitsTraded + q)
			unitsTraded += q
			numTrades++
		}

		if bid.offer.Quantity <= 0 {
			h.closeBid(*bid)
			bids = bids[1:]
		}
		if ask.offer.Quantity <= 0 {
			h.closeAsk(*ask)
			asks = asks[1:]
		}
	}

retain:
	// Whatever survived validation and matching rests until its expiry; the
	// single-clearing entries were stamped expiry=1 and fall out next pass.
	h.bidBook[commodity] = append([]bidEntry(nil), bids...)
	h.askBook[commodity] = append([]askEntry(nil), asks...)

	h.history.Asks.Add(commodity, supply)
	h.history.Bids.Add(commodity, demand)
	h.history.NetSupply.Add(commodity, supply-demand)
	h.history.Trades.Add(commodity, float64(numTrades))

	if unitsTraded > 0 {
		h.history.BuyPrices.Add(commodity, avgBuyPriceTick)
		h.history.Prices.Add(commodity, avgPriceTick)
	} else {
		// Repeat the previous tick's value so price series stay dense.
		h.history.BuyPrices.Add(commodity, h.history.BuyPrices.MostRecent(commodity))
		h.history.Prices.Add(commodity, h.history.Prices.MostRecent(commodity))
	}
}

// validateBid runs the once-per-clearing checks on a resting bid: sender
// still registered, not expired, broker fee paid, stake still good.
func (h *House) validateBid(e *bidEntry, resolveTime int64) bool {
	trader, ok := h.lookupTrader(e.offer.Sender)
	if !ok {
		return false
	}
	if e.offer.Quantity <= 0 || e.offer.UnitPrice <= 0 {
		h.log.Warnw("rejected_nonsensical_bid", "offer", e.offer.String())
		return false
	}

	if e.offer.ExpiryMs == 0 {
		// Immediate offer: fee-free, valid this clearing only.
		e.offer.ExpiryMs = 1
		e.result.BrokerFeePaid = true
	} else if e.offer.ExpiryMs < resolveTime {
		return false
	}

	if !e.result.BrokerFeePaid {
		h.takeBrokerFee(trader, e.offer.Quantity, e.offer.UnitPrice, &e.result.BrokerFeePaid)
	}
	if !e.result.BrokerFeePaid {
		return false
	}

	if !trader.HasMoney(float64(e.offer.Quantity) * e.offer.UnitPrice) {
		h.log.Debugw("bid_stake_failed", "offer", e.offer.String())
		return false
	}
	return true
}

func (h *House) validateAsk(e *askEntry, resolveTime int64) bool {
	trader, ok := h.lookupTrader(e.offer.Sender)
	if !ok {
		return false
	}
	if e.offer.Quantity <= 0 || e.offer.UnitPrice <= 0 {
		h.log.Warnw("rejected_nonsensical_ask", "offer", e.offer.String())
		return false
	}

	if e.offer.ExpiryMs == 0 {
		e.offer.ExpiryMs = 1
		e.result.BrokerFeePaid = true
	} else if e.offer.ExpiryMs < resolveTime {
		return false
	}

	if !e.result.BrokerFeePaid {
		h.takeBrokerFee(trader, e.offer.Quantity, e.offer.UnitPrice, &e.result.BrokerFeePaid)
	}
	if !e.result.BrokerFeePaid {
		return false
	}

	if !trader.HasCommodity(e.offer.Commodity, e.offer.Quantity) {
		h.log.Debugw("ask_stake_failed", "offer", e.offer.String())
		return false
	}
	return true
}

func (h *House) takeBrokerFee(trader comms.Trader, quantity int, unitPrice float64, paid *bool) {
	fee := float64(quantity) * unitPrice * h.econ.BrokerFeeRate
	if trader.TryTakeMoney(fee, true) > 0 {
		h.addSpreadProfit(fee)
		*paid = true
	}
}

type txStatus int

const (
	txOK txStatus = iota
	txSellerFailed
	txBuyerFailed
)

// makeTransaction moves goods seller→buyer and money buyer→seller, taxing
// the seller's proceeds into spread profit. Both takes are atomic; a
// failure aborts the trade with nothing moved beyond what is reported.
func (h *House) makeTransaction(commodity string, buyerID, sellerID, quantity int, clearingPrice float64) txStatus {
	seller, ok := h.lookupTrader(sellerID)
	if !ok {
		return txSellerFailed
	}
	buyer, ok := h.lookupTrader(buyerID)
	if !ok {
		return txBuyerFailed
	}

	taken := seller.TryTakeCommodity(commodity, quantity, 0, true)
	if taken == 0 {
		h.log.Warnw("seller_lacks_goods", "seller", sellerID, "commodity", commodity, "quantity", quantity)
		return txSellerFailed
	}
	notional := float64(taken) * clearingPrice
	if buyer.TryTakeMoney(notional, true) == 0 {
		// Return the goods; the buyer side failed after the take.
		seller.TryAddCommodity(commodity, taken, 0, false)
		h.log.Warnw("buyer_lacks_money", "buyer", buyerID, "commodity", commodity, "notional", notional)
		return txBuyerFailed
	}

	buyer.TryAddCommodity(commodity, taken, clearingPrice, false)
	seller.AddMoney(notional * (1 - h.econ.SalesTaxRate))
	h.addSpreadProfit(notional * h.econ.SalesTaxRate)

	h.log.Infow("trade",
		"commodity", commodity,
		"seller", sellerID,
		"buyer", buyerID,
		"quantity", taken,
		"price", clearingPrice,
	)
	return txOK
}

// closeBid finalizes a bid's result, counting any remainder as untraded,
// and delivers it to the originator if still registered.
func (h *House) closeBid(e bidEntry) {
	if e.offer.Quantity > 0 {
		e.result.RecordNoTrade(e.offer.Quantity)
	}
	if _, ok := h.lookupTrader(e.offer.Sender); ok {
		h.sendMessage(comms.NewBidResult(h.id, e.result), e.offer.Sender)
	}
}

func (h *House) closeAsk(e askEntry) {
	if e.offer.Quantity > 0 {
		e.result.RecordNoTrade(e.offer.Quantity)
	}
	if _, ok := h.lookupTrader(e.offer.Sender); ok {
		h.sendMessage(comms.NewAskResult(h.id, e.result), e.offer.Sender)
	}
}

func (h *House) lookupTrader(id int) (comms.Trader, bool) {
	h.tradersMu.RLock()
	defer h.tradersMu.RUnlock()
	t, ok := h.traders[id]
	return t, ok
}
