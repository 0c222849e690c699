// Package exchange implements the auction house: registration, per-commodity
// order books, clearing with stake validation and atomic settlement, fee and
// tax collection, rolling history and demographics.
package exchange

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outerspatial/bazaarsim/params"
	"github.com/outerspatial/bazaarsim/pkg/comms"
	"github.com/outerspatial/bazaarsim/pkg/market"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

type bidEntry struct {
	offer  comms.BidOffer
	result comms.BidResult
}

type askEntry struct {
	offer  comms.AskOffer
	result comms.AskResult
}

// House is the authoritative matcher and settler for all commodities. All
// inter-participant traffic flows through its inbox/outbox mailboxes; the
// books and trader registry are only mutated under their mutexes.
type House struct {
	id    int
	cfg   params.AuctionHouse
	econ  params.Economy
	clock util.Clock
	log   *zap.SugaredLogger

	inbox  comms.Mailbox[comms.Message]
	outbox comms.Mailbox[comms.Envelope]

	bookMu      sync.Mutex
	bidBook     map[string][]bidEntry
	askBook     map[string][]askEntry
	commodities map[string]market.Commodity

	tradersMu    sync.RWMutex
	traders      map[int]comms.Trader
	demographics map[string]int
	numDeaths    int
	totalAge     int

	history *market.History

	profitMu     sync.Mutex
	spreadProfit float64

	ticks     int
	done      chan struct{}
	closeOnce sync.Once
	pumpStop  chan struct{}
	pumpDone  chan struct{}
}

func NewHouse(id int, cfg params.AuctionHouse, econ params.Economy, clock util.Clock, log *zap.SugaredLogger) *House {
	return &House{
		id:           id,
		cfg:          cfg,
		econ:         econ,
		clock:        clock,
		log:          log.Named("AH" + itoa(id)),
		bidBook:      make(map[string][]bidEntry),
		askBook:      make(map[string][]askEntry),
		commodities:  make(map[string]market.Commodity),
		traders:      make(map[int]comms.Trader),
		demographics: make(map[string]int),
		history:      market.NewHistory(clock),
		done:         make(chan struct{}),
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (h *House) ID() int { return h.id }

// Done is closed when the house shuts down. Agents watch it as their
// non-owning liveness signal: once it closes they self-destruct.
func (h *House) Done() <-chan struct{} { return h.done }

func (h *House) ReceiveMessage(msg comms.Message) {
	h.inbox.Push(msg)
}

func (h *House) sendMessage(msg comms.Message, recipient int) {
	h.outbox.Push(comms.Envelope{Recipient: recipient, Msg: msg})
}

// sendDirect bypasses the outbox for recipients not (or no longer) in the
// registry, e.g. rejected registrations.
func (h *House) sendDirect(msg comms.Message, recipient comms.Trader) {
	h.log.Warnw("direct_send_to_unregistered", "recipient", recipient.ID())
	recipient.ReceiveMessage(msg)
}

// RegisterCommodity makes a commodity tradeable and seeds its history.
// Idempotent; a second registration of the same name is ignored.
func (h *House) RegisterCommodity(c market.Commodity) {
	h.bookMu.Lock()
	defer h.bookMu.Unlock()
	if _, ok := h.commodities[c.Name]; ok {
		return
	}
	h.commodities[c.Name] = c
	h.bidBook[c.Name] = nil
	h.askBook[c.Name] = nil
	h.history.Initialise(c.Name)
}

func (h *House) Commodities() []market.Commodity {
	h.bookMu.Lock()
	defer h.bookMu.Unlock()
	out := make([]market.Commodity, 0, len(h.commodities))
	for _, c := range h.commodities {
		out = append(out, c)
	}
	return out
}

func (h *House) NumTraders() int {
	h.tradersMu.RLock()
	defer h.tradersMu.RUnlock()
	return len(h.traders)
}

// Demographics returns the average age at death and a copy of the per-class
// live counts.
func (h *House) Demographics() (float64, map[string]int) {
	h.tradersMu.RLock()
	defer h.tradersMu.RUnlock()
	var avgAge float64
	if h.numDeaths > 0 {
		avgAge = float64(h.totalAge) / float64(h.numDeaths)
	}
	alive := make(map[string]int, len(h.demographics))
	for class, n := range h.demographics {
		alive[class] = n
	}
	return avgAge, alive
}

func (h *House) NumDeaths() int {
	h.tradersMu.RLock()
	defer h.tradersMu.RUnlock()
	return h.numDeaths
}

func (h *House) SpreadProfit() float64 {
	h.profitMu.Lock()
	defer h.profitMu.Unlock()
	return h.spreadProfit
}

func (h *House) addSpreadProfit(amount float64) {
	h.profitMu.Lock()
	h.spreadProfit += amount
	h.profitMu.Unlock()
}

func (h *House) History() *market.History { return h.history }

// Price queries consumed by traders, the supervisor and the dashboard.
// Count-windowed variants with n == 1 read the atomic most-recent slot.

func (h *House) MostRecentPrice(commodity string) float64 {
	return h.history.Prices.MostRecent(commodity)
}

func (h *House) MostRecentBuyPrice(commodity string) float64 {
	return h.history.BuyPrices.MostRecent(commodity)
}

func (h *House) AverageHistoricalPrice(commodity string, window int) float64 {
	return h.history.Prices.Average(commodity, window)
}

func (h *House) AverageHistoricalBuyPrice(commodity string, window int) float64 {
	return h.history.BuyPrices.Average(commodity, window)
}

func (h *House) TAverageHistoricalPrice(commodity string, window time.Duration) float64 {
	return h.history.Prices.TAverage(commodity, window)
}

func (h *House) TAverageHistoricalBuyPrice(commodity string, window time.Duration) float64 {
	return h.history.BuyPrices.TAverage(commodity, window)
}

func (h *House) TAverageHistoricalSupply(commodity string, window time.Duration) float64 {
	return h.history.NetSupply.TAverage(commodity, window)
}

func (h *House) PricePercentageChange(commodity string, window time.Duration) float64 {
	return h.history.Prices.TPercentageChange(commodity, window)
}

// StartPump launches the message-pump goroutine flushing the inbox and
// outbox every PumpInterval until StopPump.
func (h *House) StartPump() {
	if h.pumpStop != nil {
		return
	}
	h.pumpStop = make(chan struct{})
	h.pumpDone = make(chan struct{})
	go func() {
		defer close(h.pumpDone)
		ticker := time.NewTicker(h.cfg.PumpInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.pumpStop:
				return
			case <-ticker.C:
				h.PumpOnce()
			}
		}
	}()
}

// StopPump stops the pump goroutine and waits for it to exit.
func (h *House) StopPump() {
	if h.pumpStop == nil {
		return
	}
	close(h.pumpStop)
	<-h.pumpDone
	h.pumpStop = nil
}

// PumpOnce flushes the inbox then the outbox, each up to the flush budget.
// Exposed so tests can drive message delivery deterministically.
func (h *House) PumpOnce() {
	h.flushInbox()
	h.flushOutbox()
}

func (h *House) flushInbox() {
	processed := 0
	for processed < h.cfg.MaxMsgsPerFlush {
		msg, ok := h.inbox.Pop()
		if !ok {
			return
		}
		processed++
		switch msg.Type {
		case comms.MsgEmpty:
			// no-op
		case comms.MsgBidOffer:
			h.processBid(msg)
		case comms.MsgAskOffer:
			h.processAsk(msg)
		case comms.MsgRegisterRequest:
			h.processRegisterRequest(msg)
		case comms.MsgShutdownNotify:
			h.processShutdownNotify(msg)
		default:
			h.log.Warnw("unsupported_message", "type", msg.Type, "sender", msg.Sender)
		}
	}
	if remaining := h.inbox.Len(); remaining > 0 {
		h.log.Warnw("inbox_not_fully_flushed", "tick", h.ticks, "remaining", remaining)
	}
}

func (h *House) flushOutbox() {
	processed := 0
	for processed < h.cfg.MaxMsgsPerFlush {
		env, ok := h.outbox.Pop()
		if !ok {
			return
		}
		processed++
		h.tradersMu.RLock()
		recipient, known := h.traders[env.Recipient]
		h.tradersMu.RUnlock()
		if !known {
			h.log.Debugw("unknown_recipient", "recipient", env.Recipient)
			continue
		}
		recipient.ReceiveMessage(env.Msg)
	}
	if remaining := h.outbox.Len(); remaining > 0 {
		h.log.Warnw("outbox_not_fully_flushed", "tick", h.ticks, "remaining", remaining)
	}
}

func (h *House) processBid(msg comms.Message) {
	bid := msg.BidOffer
	if bid == nil {
		h.log.Warnw("malformed_bid_offer", "sender", msg.Sender)
		return
	}
	h.bookMu.Lock()
	defer h.bookMu.Unlock()
	if _, ok := h.commodities[bid.Commodity]; !ok {
		h.log.Warnw("bid_for_unknown_commodity", "commodity", bid.Commodity, "sender", msg.Sender)
		return
	}
	h.bidBook[bid.Commodity] = append(h.bidBook[bid.Commodity], bidEntry{
		offer:  *bid,
		result: comms.BidResult{Sender: h.id, Commodity: bid.Commodity, OriginalPrice: bid.UnitPrice},
	})
}

func (h *House) processAsk(msg comms.Message) {
	ask := msg.AskOffer
	if ask == nil {
		h.log.Warnw("malformed_ask_offer", "sender", msg.Sender)
		return
	}
	h.bookMu.Lock()
	defer h.bookMu.Unlock()
	if _, ok := h.commodities[ask.Commodity]; !ok {
		h.log.Warnw("ask_for_unknown_commodity", "commodity", ask.Commodity, "sender", msg.Sender)
		return
	}
	h.askBook[ask.Commodity] = append(h.askBook[ask.Commodity], askEntry{
		offer:  *ask,
		result: comms.AskResult{Sender: h.id, Commodity: ask.Commodity},
	})
}

func (h *House) processRegisterRequest(msg comms.Message) {
	req := msg.RegisterRequest
	if req == nil || req.Trader == nil {
		h.log.Warnw("malformed_register_request", "sender", msg.Sender)
		return
	}
	requested := msg.Sender
	if requested == h.id {
		h.sendDirect(comms.NewRegisterResponse(h.id, false, "ID clash with auction house"), req.Trader)
		return
	}

	h.tradersMu.Lock()
	if _, exists := h.traders[requested]; exists {
		h.tradersMu.Unlock()
		h.sendDirect(comms.NewRegisterResponse(h.id, false, "ID clash with existing trader"), req.Trader)
		return
	}
	h.traders[requested] = req.Trader
	h.demographics[req.Trader.ClassName()]++
	h.tradersMu.Unlock()

	h.log.Infow("trader_registered", "id", requested, "class", req.Trader.ClassName())
	h.sendMessage(comms.NewRegisterResponse(h.id, true, ""), requested)
}

func (h *House) processShutdownNotify(msg comms.Message) {
	notify := msg.ShutdownNotify
	if notify == nil {
		h.log.Warnw("malformed_shutdown_notify", "sender", msg.Sender)
		return
	}
	h.tradersMu.Lock()
	h.demographics[notify.ClassName]--
	h.numDeaths++
	h.totalAge += notify.AgeAtDeath
	delete(h.traders, msg.Sender)
	h.tradersMu.Unlock()
	h.log.Infow("trader_deregistered", "id", msg.Sender, "class", notify.ClassName, "age", notify.AgeAtDeath)
}

// TickOnce runs one clearing pass over every registered commodity.
func (h *House) TickOnce() {
	h.bookMu.Lock()
	names := make([]string, 0, len(h.commodities))
	for name := range h.commodities {
		names = append(names, name)
	}
	h.bookMu.Unlock()
	for _, name := range names {
		h.resolveOffers(name)
	}
	h.ticks++
	h.log.Debugw("tick_complete", "tick", h.ticks, "spread_profit", h.SpreadProfit())
}

// Run drives the clearing loop for the given duration, pacing each pass to
// TickTime. The message pump must be started separately.
func (h *House) Run(duration time.Duration) {
	deadline := h.clock.Now().Add(duration)
	for {
		select {
		case <-h.done:
			return
		default:
		}
		started := h.clock.Now()
		h.TickOnce()
		if h.clock.Now().After(deadline) {
			h.log.Infow("run_duration_reached", "ticks", h.ticks)
			h.Shutdown()
			return
		}
		elapsed := h.clock.Now().Sub(started)
		if elapsed < h.cfg.TickTime {
			select {
			case <-h.clock.After(h.cfg.TickTime - elapsed):
			case <-h.done:
				return
			}
		} else {
			h.log.Warnw("tick_overrun", "tick", h.ticks, "elapsed_ms", elapsed.Milliseconds())
		}
	}
}

// Shutdown stops the pump, commands every known trader to shut down via the
// now-direct path, clears the registry and closes Done.
func (h *House) Shutdown() {
	h.closeOnce.Do(func() {
		h.StopPump()
		h.tradersMu.Lock()
		for id, t := range h.traders {
			t.ReceiveMessage(comms.NewShutdownCommand(h.id))
			delete(h.traders, id)
		}
		h.tradersMu.Unlock()
		close(h.done)
		h.log.Infow("auction_house_shutdown", "ticks", h.ticks, "spread_profit", h.SpreadProfit())
	})
}
