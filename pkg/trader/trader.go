// Package trader implements the autonomous producer/consumer agents: the
// AI trader runtime with its role dispatch and adaptive pricing, and the
// scripted event injector used to fake shortages and surpluses.
package trader

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/outerspatial/bazaarsim/params"
	"github.com/outerspatial/bazaarsim/pkg/comms"
	"github.com/outerspatial/bazaarsim/pkg/exchange"
	"github.com/outerspatial/bazaarsim/pkg/inventory"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

// AITrader runs one role's production step per tick, posts offers derived
// from inventory targets and its price model, and reconciles settlement
// results. The auction house mutates its money and inventory through the
// comms.Trader interface; the internal mutex keeps those mutations and the
// trader's own production step from interleaving.
type AITrader struct {
	id        int
	className string
	cfg       params.Trader
	econ      params.Economy
	clock     util.Clock
	rng       *util.Rand
	log       *zap.SugaredLogger

	house *exchange.House

	inbox  comms.Mailbox[comms.Message]
	outbox comms.Mailbox[comms.Envelope]

	mu    sync.Mutex
	money float64
	inv   *inventory.Inventory

	prices *PriceModel

	role Role

	ready     bool
	destroyed atomic.Bool
	ticks     int // age in ready ticks

	// per-cycle production cost scratch, stamped onto produced units
	trackCosts float64
}

func NewAITrader(id int, house *exchange.House, role Role, className string, cfg params.Trader, econ params.Economy, starting []inventory.Item, clock util.Clock, rng *util.Rand, log *zap.SugaredLogger) (*AITrader, error) {
	t := &AITrader{
		id:        id,
		className: className,
		cfg:       cfg,
		econ:      econ,
		clock:     clock,
		rng:       rng,
		log:       log.Named(className + itoa(id)),
		house:     house,
		money:     econ.StartingMoney,
		inv:       inventory.New(econ.InvCapacity, starting),
		prices:    NewPriceModel(cfg.InternalLookback),
		role:      role,
	}
	// Seed the observed range and the carried cost from market history so
	// the first offers have something to price against. A zero reference
	// price means the commodity was never registered: refuse to trade it.
	for _, it := range starting {
		base := house.AverageHistoricalPrice(it.Name, cfg.InternalLookback)
		if base <= 0 {
			return nil, fmt.Errorf("commodity %q not registered with auction house %d", it.Name, house.ID())
		}
		t.prices.Seed(it.Name, base, base*3)
		t.inv.SetCost(it.Name, base)
	}
	return t, nil
}

func itoa(n int) string {
	if n < 0 {
		return "-" + itoa(-n)
	}
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}

func (t *AITrader) ID() int           { return t.id }
func (t *AITrader) ClassName() string { return t.className }
func (t *AITrader) Age() int          { return t.ticks }
func (t *AITrader) Destroyed() bool   { return t.destroyed.Load() }

func (t *AITrader) ReceiveMessage(msg comms.Message) {
	t.inbox.Push(msg)
}

func (t *AITrader) sendMessage(msg comms.Message, recipient int) {
	t.outbox.Push(comms.Envelope{Recipient: recipient, Msg: msg})
}

// Register enqueues the registration request; it reaches the house on the
// next outbox flush.
func (t *AITrader) Register() {
	t.sendMessage(comms.NewRegisterRequest(t.id, t), t.house.ID())
}

// ---- comms.Trader settlement surface ----

func (t *AITrader) Money() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.money
}

func (t *AITrader) HasMoney(amount float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.money >= amount
}

func (t *AITrader) TryTakeMoney(amount float64, atomic bool) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var taken float64
	if !atomic {
		taken = amount
		if t.money < taken {
			taken = t.money
		}
	} else if t.money >= amount {
		taken = amount
	}
	t.money -= taken
	return taken
}

func (t *AITrader) ForceTakeMoney(amount float64) {
	t.mu.Lock()
	t.money -= amount
	t.mu.Unlock()
}

func (t *AITrader) AddMoney(amount float64) {
	t.mu.Lock()
	t.money += amount
	t.mu.Unlock()
}

func (t *AITrader) HasCommodity(commodity string, quantity int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv.Query(commodity) >= quantity
}

func (t *AITrader) TryTakeCommodity(commodity string, quantity int, unitPrice float64, atomic bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inv.Has(commodity) {
		t.log.Warnw("take_unknown_commodity", "commodity", commodity)
		return 0
	}
	stored := t.inv.Query(commodity)
	taken := quantity
	if stored < quantity {
		if atomic {
			return 0
		}
		taken = stored
	}
	t.inv.Take(commodity, taken)
	return taken
}

func (t *AITrader) TryAddCommodity(commodity string, quantity int, unitPrice float64, atomic bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inv.Has(commodity) {
		t.log.Warnw("add_unknown_commodity", "commodity", commodity)
		return 0
	}
	size := t.inv.Size(commodity)
	added := quantity
	if t.inv.EmptySpace() < float64(quantity)*size {
		if atomic {
			return 0
		}
		added = int(t.inv.EmptySpace() / size)
	}
	t.inv.Add(commodity, added, unitPrice)
	if overflow := quantity - added; overflow > 0 {
		// Overproduction: discarded units mark the carried cost down.
		t.inv.MarkdownCost(commodity, overflow)
	}
	return added
}

// ---- role surface ----

func (t *AITrader) Query(commodity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv.Query(commodity)
}

func (t *AITrader) QueryCost(commodity string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv.QueryCost(commodity)
}

func (t *AITrader) Ideal(commodity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv.Ideal(commodity)
}

func (t *AITrader) EmptySpace() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv.EmptySpace()
}

// ---- tick loop ----

// Run drives the tick loop until the trader dies, is told to shut down, or
// observes the auction house going away.
func (t *AITrader) Run() {
	ticker := time.NewTicker(t.cfg.TickTime)
	defer ticker.Stop()
	for {
		select {
		case <-t.house.Done():
			// The house is gone; no counterparty is left to notify.
			t.destroyed.Store(true)
			t.log.Infow("auction_house_gone", "age", t.ticks)
			return
		case <-ticker.C:
			if !t.TickOnce() {
				return
			}
		}
	}
}

// TickOnce runs one agent tick; returns false once the trader is destroyed.
func (t *AITrader) TickOnce() bool {
	if t.destroyed.Load() {
		return false
	}
	t.flushInbox()
	if t.destroyed.Load() {
		t.flushOutbox()
		return false
	}
	if t.ready {
		if t.role != nil {
			t.role.TickRole(t)
		}
		for _, commodity := range t.commodities() {
			t.generateOffers(commodity)
		}
	}
	if t.Money() <= 0 {
		t.Destroy()
		t.flushOutbox()
		return false
	}
	t.flushOutbox()
	if t.ready {
		t.ticks++
	}
	return true
}

func (t *AITrader) commodities() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv.Commodities()
}

func (t *AITrader) flushInbox() {
	processed := 0
	for processed < t.cfg.MaxMsgsPerFlush {
		msg, ok := t.inbox.Pop()
		if !ok {
			return
		}
		processed++
		switch msg.Type {
		case comms.MsgEmpty:
			// no-op
		case comms.MsgBidResult:
			if msg.BidResult != nil {
				t.prices.Observe(msg.BidResult.Commodity, msg.BidResult.AvgPrice, msg.BidResult.QuantityTraded)
			}
		case comms.MsgAskResult:
			if msg.AskResult != nil {
				t.prices.Observe(msg.AskResult.Commodity, msg.AskResult.AvgPrice, msg.AskResult.QuantityTraded)
			}
		case comms.MsgRegisterResponse:
			t.processRegisterResponse(msg)
		case comms.MsgShutdownCommand:
			t.log.Infow("shutdown_command_received", "age", t.ticks)
			t.Destroy()
			return
		default:
			t.log.Warnw("unsupported_message", "type", msg.Type, "sender", msg.Sender)
		}
	}
	if remaining := t.inbox.Len(); remaining > 0 {
		t.log.Warnw("inbox_not_fully_flushed", "remaining", remaining)
	}
}

func (t *AITrader) processRegisterResponse(msg comms.Message) {
	resp := msg.RegisterResponse
	if resp == nil {
		return
	}
	if resp.Accepted {
		t.ready = true
		t.log.Infow("registered")
		return
	}
	// Never registered, so there is nothing to deregister: die quietly.
	t.log.Errorw("registration_rejected", "reason", resp.Reason)
	t.destroyed.Store(true)
}

func (t *AITrader) flushOutbox() {
	for {
		env, ok := t.outbox.Pop()
		if !ok {
			return
		}
		// Traders only talk to the auction house.
		if env.Recipient != t.house.ID() {
			t.log.Errorw("unknown_recipient", "recipient", env.Recipient)
			continue
		}
		t.house.ReceiveMessage(env.Msg)
	}
}

// Destroy marks the trader dead and notifies the auction house exactly once.
func (t *AITrader) Destroy() {
	if t.destroyed.Swap(true) {
		return
	}
	t.house.ReceiveMessage(comms.NewShutdownNotify(t.id, t.className, t.ticks))
	t.log.Infow("destroyed", "age", t.ticks, "money", t.Money())
}
