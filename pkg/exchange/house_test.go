package exchange

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/outerspatial/bazaarsim/params"
	"github.com/outerspatial/bazaarsim/pkg/comms"
	"github.com/outerspatial/bazaarsim/pkg/market"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

// stubTrader is a minimal comms.Trader with a plain money balance and
// good counts, enough to exercise clearing and settlement.
type stubTrader struct {
	mu    sync.Mutex
	id    int
	class string
	money float64
	goods map[string]int
	inbox []comms.Message
}

func newStubTrader(id int, money float64, goods map[string]int) *stubTrader {
	g := make(map[string]int, len(goods))
	for k, v := range goods {
		g[k] = v
	}
	return &stubTrader{id: id, class: "test_class", money: money, goods: g}
}

func (s *stubTrader) ID() int           { return s.id }
func (s *stubTrader) ClassName() string { return s.class }

func (s *stubTrader) ReceiveMessage(m comms.Message) {
	s.mu.Lock()
	s.inbox = append(s.inbox, m)
	s.mu.Unlock()
}

func (s *stubTrader) HasMoney(amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.money >= amount
}

func (s *stubTrader) HasCommodity(c string, q int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goods[c] >= q
}

func (s *stubTrader) TryTakeMoney(amount float64, atomic bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := amount
	if s.money < amount {
		if atomic {
			return 0
		}
		taken = s.money
	}
	s.money -= taken
	return taken
}

func (s *stubTrader) ForceTakeMoney(amount float64) {
	s.mu.Lock()
	s.money -= amount
	s.mu.Unlock()
}

func (s *stubTrader) AddMoney(amount float64) {
	s.mu.Lock()
	s.money += amount
	s.mu.Unlock()
}

func (s *stubTrader) TryTakeCommodity(c string, q int, _ float64, atomic bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := q
	if s.goods[c] < q {
		if atomic {
			return 0
		}
		taken = s.goods[c]
	}
	s.goods[c] -= taken
	return taken
}

func (s *stubTrader) TryAddCommodity(c string, q int, _ float64, atomic bool) int {
	s.mu.Lock()
	s.goods[c] += q
	s.mu.Unlock()
	return q
}

func (s *stubTrader) balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.money
}

func (s *stubTrader) stored(c string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goods[c]
}

func (s *stubTrader) results() (bids []comms.BidResult, asks []comms.AskResult, regs []comms.RegisterResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.inbox {
		switch m.Type {
		case comms.MsgBidResult:
			bids = append(bids, *m.BidResult)
		case comms.MsgAskResult:
			asks = append(asks, *m.AskResult)
		case comms.MsgRegisterResponse:
			regs = append(regs, *m.RegisterResponse)
		}
	}
	return
}

func newTestHouse(t *testing.T) *House {
	t.Helper()
	cfg := params.Default()
	h := NewHouse(0, cfg.House, cfg.Economy, util.RealClock{}, util.NopLogger())
	h.RegisterCommodity(market.Commodity{Name: "comm", Size: 1})
	return h
}

func register(t *testing.T, h *House, traders ...*stubTrader) {
	t.Helper()
	for _, tr := range traders {
		h.ReceiveMessage(comms.NewRegisterRequest(tr.id, tr))
	}
	h.PumpOnce()
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// Scenario: Alice asks 3@$10, Bob asks 5@$12, Charlie bids 4@$15, Dan bids
// 1@$11. Charlie fills against Alice then Bob at the resting ask prices;
// Dan's limit is below Bob's remaining ask and stays unfilled.
func TestClearingPartialAndFullFills(t *testing.T) {
	h := newTestHouse(t)
	start := map[string]int{"comm": 5}
	alice := newStubTrader(1, 100, start)
	bob := newStubTrader(2, 100, start)
	charlie := newStubTrader(3, 100, start)
	dan := newStubTrader(4, 100, start)
	register(t, h, alice, bob, charlie, dan)
	if got := h.NumTraders(); got != 4 {
		t.Fatalf("NumTraders = %d, want 4", got)
	}

	expiry := util.ToUnixMs(time.Now()) + time.Minute.Milliseconds()
	h.ReceiveMessage(comms.NewAskOffer(comms.AskOffer{Sender: 1, Commodity: "comm", Quantity: 3, UnitPrice: 10, ExpiryMs: expiry}))
	h.ReceiveMessage(comms.NewAskOffer(comms.AskOffer{Sender: 2, Commodity: "comm", Quantity: 5, UnitPrice: 12, ExpiryMs: expiry}))
	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 3, Commodity: "comm", Quantity: 4, UnitPrice: 15, ExpiryMs: expiry}))
	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 4, Commodity: "comm", Quantity: 1, UnitPrice: 11, ExpiryMs: expiry}))
	h.PumpOnce()
	h.TickOnce()
	h.PumpOnce()

	// Stock after clearing.
	if got := alice.stored("comm"); got != 2 {
		t.Errorf("alice stored = %d, want 2", got)
	}
	if got := bob.stored("comm"); got != 4 {
		t.Errorf("bob stored = %d, want 4", got)
	}
	if got := charlie.stored("comm"); got != 9 {
		t.Errorf("charlie stored = %d, want 9", got)
	}
	if got := dan.stored("comm"); got != 5 {
		t.Errorf("dan stored = %d, want 5", got)
	}

	// Money: sellers receive taxed proceeds, everyone pays the broker fee
	// on their original notional, the buyer pays the clearing price.
	aliceFee := 3 * 10 * 0.03
	if want := 100 - aliceFee + 30*(1-0.08); !approx(alice.balance(), want) {
		t.Errorf("alice balance = %v, want %v", alice.balance(), want)
	}
	bobFee := 5 * 12 * 0.03
	if want := 100 - bobFee + 12*(1-0.08); !approx(bob.balance(), want) {
		t.Errorf("bob balance = %v, want %v", bob.balance(), want)
	}
	charlieFee := 4 * 15 * 0.03
	if want := 100 - charlieFee - 42; !approx(charlie.balance(), want) {
		t.Errorf("charlie balance = %v, want %v", charlie.balance(), want)
	}
	danFee := 1 * 11 * 0.03
	if want := 100 - danFee; !approx(dan.balance(), want) {
		t.Errorf("dan balance = %v, want %v", dan.balance(), want)
	}

	// Spread profit: all four broker fees plus 8% tax on $42 notional.
	wantProfit := aliceFee + bobFee + charlieFee + danFee + 42*0.08
	if !approx(h.SpreadProfit(), wantProfit) {
		t.Errorf("spread profit = %v, want %v", h.SpreadProfit(), wantProfit)
	}

	// Charlie's terminal result: 4 filled, volume-weighted $10.50.
	bids, _, _ := charlie.results()
	if len(bids) != 1 {
		t.Fatalf("charlie results = %d, want 1", len(bids))
	}
	if bids[0].QuantityTraded != 4 || !approx(bids[0].AvgPrice, 10.5) {
		t.Errorf("charlie fill = %d @ %v, want 4 @ 10.5", bids[0].QuantityTraded, bids[0].AvgPrice)
	}
	// Clearing happens at the resting ask's price.
	_, aliceAsks, _ := alice.results()
	if len(aliceAsks) != 1 || aliceAsks[0].QuantityTraded != 3 || !approx(aliceAsks[0].AvgPrice, 10) {
		t.Errorf("alice fill = %+v, want 3 @ 10", aliceAsks)
	}
}

func TestRegistrationIDClash(t *testing.T) {
	h := newTestHouse(t)
	first := newStubTrader(1, 100, nil)
	second := newStubTrader(1, 100, nil)
	register(t, h, first, second)

	if got := h.NumTraders(); got != 1 {
		t.Fatalf("NumTraders = %d, want 1", got)
	}

	// The clash reply is delivered directly, so it lands even though the
	// trader never registered.
	_, _, regs := second.results()
	if len(regs) != 1 {
		t.Fatalf("second trader responses = %d, want 1", len(regs))
	}
	if regs[0].Accepted {
		t.Fatal("second registration should be rejected")
	}
	if regs[0].Reason != "ID clash with existing trader" {
		t.Fatalf("reason = %q", regs[0].Reason)
	}

	// The house's own id is equally off limits.
	clash := newStubTrader(0, 100, nil)
	h.ReceiveMessage(comms.NewRegisterRequest(0, clash))
	h.PumpOnce()
	_, _, regs = clash.results()
	if len(regs) != 1 || regs[0].Accepted || regs[0].Reason != "ID clash with auction house" {
		t.Fatalf("house-id clash responses = %+v", regs)
	}
}

// An offer already past its expiry is closed on the next clearing with a
// fully-untraded result.
func TestExpiredOfferClosedUnfilled(t *testing.T) {
	h := newTestHouse(t)
	buyer := newStubTrader(1, 100, nil)
	register(t, h, buyer)

	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 1, Commodity: "comm", Quantity: 4, UnitPrice: 10, ExpiryMs: 1}))
	h.PumpOnce()
	h.TickOnce()
	h.PumpOnce()

	bids, _, _ := buyer.results()
	if len(bids) != 1 {
		t.Fatalf("results = %d, want 1", len(bids))
	}
	if bids[0].QuantityTraded != 0 || bids[0].QuantityUntraded != 4 {
		t.Fatalf("result = %d traded / %d untraded, want 0/4", bids[0].QuantityTraded, bids[0].QuantityUntraded)
	}
	// Expired offers never owe a broker fee.
	if !approx(buyer.balance(), 100) {
		t.Fatalf("balance = %v, want 100", buyer.balance())
	}
}

// An immediate offer (expiry 0) lives exactly one clearing, fee-free.
func TestImmediateOfferSingleClearing(t *testing.T) {
	h := newTestHouse(t)
	buyer := newStubTrader(1, 100, nil)
	register(t, h, buyer)

	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 1, Commodity: "comm", Quantity: 2, UnitPrice: 5}))
	h.PumpOnce()
	h.TickOnce() // no counterparty: offer rests, stamped to expire
	h.TickOnce() // now past its stamped expiry: closed
	h.PumpOnce()

	bids, _, _ := buyer.results()
	if len(bids) != 1 {
		t.Fatalf("results = %d, want 1", len(bids))
	}
	if bids[0].QuantityUntraded != 2 {
		t.Fatalf("untraded = %d, want 2", bids[0].QuantityUntraded)
	}
	if !approx(buyer.balance(), 100) {
		t.Fatalf("immediate offers are fee-free; balance = %v", buyer.balance())
	}
}

// A resting offer pays the broker fee exactly once, not once per clearing.
func TestBrokerFeeChargedOnce(t *testing.T) {
	h := newTestHouse(t)
	buyer := newStubTrader(1, 100, nil)
	register(t, h, buyer)

	expiry := util.ToUnixMs(time.Now()) + time.Minute.Milliseconds()
	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 1, Commodity: "comm", Quantity: 2, UnitPrice: 5, ExpiryMs: expiry}))
	h.PumpOnce()
	h.TickOnce()
	h.TickOnce()
	h.TickOnce()

	fee := 2 * 5 * 0.03
	if want := 100 - fee; !approx(buyer.balance(), want) {
		t.Fatalf("balance = %v, want %v (single fee)", buyer.balance(), want)
	}
	if !approx(h.SpreadProfit(), fee) {
		t.Fatalf("spread profit = %v, want %v", h.SpreadProfit(), fee)
	}
}

// Stake failure: a seller who no longer holds the goods has the ask closed
// instead of trading.
func TestStakeValidationClosesOrder(t *testing.T) {
	h := newTestHouse(t)
	seller := newStubTrader(1, 100, map[string]int{"comm": 1})
	buyer := newStubTrader(2, 100, map[string]int{"comm": 0})
	register(t, h, seller, buyer)

	expiry := util.ToUnixMs(time.Now()) + time.Minute.Milliseconds()
	h.ReceiveMessage(comms.NewAskOffer(comms.AskOffer{Sender: 1, Commodity: "comm", Quantity: 5, UnitPrice: 2, ExpiryMs: expiry}))
	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 2, Commodity: "comm", Quantity: 5, UnitPrice: 3, ExpiryMs: expiry}))
	h.PumpOnce()
	h.TickOnce()
	h.PumpOnce()

	_, asks, _ := seller.results()
	if len(asks) != 1 {
		t.Fatalf("seller results = %d, want 1", len(asks))
	}
	if asks[0].QuantityTraded != 0 || asks[0].QuantityUntraded != 5 {
		t.Fatalf("ask result = %+v, want unfilled", asks[0])
	}
	if got := buyer.stored("comm"); got != 0 {
		t.Fatalf("buyer stored = %d, want 0", got)
	}
}

// Demographics: deaths equal shutdown notifications, live counts follow
// registrations minus notifications.
func TestDemographics(t *testing.T) {
	h := newTestHouse(t)
	a := newStubTrader(1, 100, nil)
	b := newStubTrader(2, 100, nil)
	register(t, h, a, b)

	_, alive := h.Demographics()
	if alive["test_class"] != 2 {
		t.Fatalf("alive = %d, want 2", alive["test_class"])
	}

	h.ReceiveMessage(comms.NewShutdownNotify(1, "test_class", 40))
	h.PumpOnce()

	avgAge, alive := h.Demographics()
	if alive["test_class"] != 1 {
		t.Fatalf("alive after death = %d, want 1", alive["test_class"])
	}
	if h.NumDeaths() != 1 {
		t.Fatalf("deaths = %d, want 1", h.NumDeaths())
	}
	if avgAge != 40 {
		t.Fatalf("avg age = %v, want 40", avgAge)
	}
	if h.NumTraders() != 1 {
		t.Fatalf("NumTraders = %d, want 1", h.NumTraders())
	}
}

// History: a clearing with trades records the volume-weighted prices; a
// quiet tick repeats the previous sample.
func TestHistoryRecording(t *testing.T) {
	h := newTestHouse(t)
	seller := newStubTrader(1, 100, map[string]int{"comm": 10})
	buyer := newStubTrader(2, 1000, nil)
	register(t, h, seller, buyer)

	expiry := util.ToUnixMs(time.Now()) + time.Minute.Milliseconds()
	h.ReceiveMessage(comms.NewAskOffer(comms.AskOffer{Sender: 1, Commodity: "comm", Quantity: 2, UnitPrice: 4, ExpiryMs: expiry}))
	h.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{Sender: 2, Commodity: "comm", Quantity: 2, UnitPrice: 6, ExpiryMs: expiry}))
	h.PumpOnce()
	h.TickOnce()

	if got := h.MostRecentPrice("comm"); !approx(got, 4) {
		t.Fatalf("recorded price = %v, want 4 (resting ask)", got)
	}
	if got := h.MostRecentBuyPrice("comm"); !approx(got, 6) {
		t.Fatalf("recorded buy price = %v, want 6", got)
	}
	if got := h.History().Trades.MostRecent("comm"); got != 1 {
		t.Fatalf("trade count = %v, want 1", got)
	}

	// Quiet tick: price series repeat, volume series record zero.
	h.TickOnce()
	if got := h.MostRecentPrice("comm"); !approx(got, 4) {
		t.Fatalf("price after quiet tick = %v, want 4", got)
	}
	if got := h.History().Trades.MostRecent("comm"); got != 0 {
		t.Fatalf("trades after quiet tick = %v, want 0", got)
	}
}

func TestRegisterCommodityIdempotent(t *testing.T) {
	h := newTestHouse(t)
	h.ReceiveMessage(comms.NewAskOffer(comms.AskOffer{Sender: 9, Commodity: "comm", Quantity: 1, UnitPrice: 1}))
	h.RegisterCommodity(market.Commodity{Name: "comm", Size: 99})
	for _, c := range h.Commodities() {
		if c.Name == "comm" && c.Size != 1 {
			t.Fatalf("re-registration overwrote commodity: size %v", c.Size)
		}
	}
}
