package trader

import (
	"math"

	"go.uber.org/zap"

	"github.com/outerspatial/bazaarsim/pkg/comms"
	"github.com/outerspatial/bazaarsim/pkg/exchange"
)

const (
	fakeLowPrice  = 0.2
	fakeHighPrice = 10
	fakeVolume    = 50
	fakeLookback  = 20
)

// MarketEvent scripts a price distortion: a shortage floods the book with
// high bids, a surplus with cheap asks, the severity following a Gaussian
// bump over the event's duration.
type MarketEvent struct {
	Commodity string
	Severity  float64
	StartTick int
	Duration  int

	basePrice float64
}

// FakeTrader injects scripted shortages and surpluses. Every stake check is
// faked so its offers always validate; it never holds real money or goods.
type FakeTrader struct {
	id     int
	house  *exchange.House
	log    *zap.SugaredLogger
	inbox  comms.Mailbox[comms.Message]
	ticks  int

	shortages []MarketEvent
	surpluses []MarketEvent
}

func NewFakeTrader(id int, house *exchange.House, log *zap.SugaredLogger) *FakeTrader {
	return &FakeTrader{id: id, house: house, log: log.Named("fake" + itoa(id))}
}

func (f *FakeTrader) ID() int                        { return f.id }
func (f *FakeTrader) ClassName() string              { return "fake" }
func (f *FakeTrader) ReceiveMessage(m comms.Message) { f.inbox.Push(m) }

// Stake checks and settlement all succeed without moving anything.
func (f *FakeTrader) HasMoney(float64) bool                               { return true }
func (f *FakeTrader) HasCommodity(string, int) bool                       { return true }
func (f *FakeTrader) TryTakeMoney(amount float64, _ bool) float64         { return amount }
func (f *FakeTrader) ForceTakeMoney(float64)                              {}
func (f *FakeTrader) AddMoney(float64)                                    {}
func (f *FakeTrader) TryTakeCommodity(_ string, q int, _ float64, _ bool) int { return q }
func (f *FakeTrader) TryAddCommodity(_ string, q int, _ float64, _ bool) int  { return q }

func (f *FakeTrader) Register() {
	f.house.ReceiveMessage(comms.NewRegisterRequest(f.id, f))
}

func (f *FakeTrader) ScheduleShortage(commodity string, severity float64, startTick, duration int) {
	f.shortages = append(f.shortages, MarketEvent{Commodity: commodity, Severity: severity, StartTick: startTick, Duration: duration})
}

func (f *FakeTrader) ScheduleSurplus(commodity string, severity float64, startTick, duration int) {
	f.surpluses = append(f.surpluses, MarketEvent{Commodity: commodity, Severity: severity, StartTick: startTick, Duration: duration})
}

// TickOnce drains responses (discarded) and fires any active events.
func (f *FakeTrader) TickOnce() {
	for {
		if _, ok := f.inbox.Pop(); !ok {
			break
		}
	}
	for i := range f.surpluses {
		f.triggerSurplus(&f.surpluses[i])
	}
	for i := range f.shortages {
		f.triggerShortage(&f.shortages[i])
	}
	f.ticks++
}

func (e *MarketEvent) distortion(tick int) (float64, bool) {
	if e.StartTick > tick || e.StartTick+e.Duration < tick {
		return 0, false
	}
	progress := float64(tick-e.StartTick) / float64(e.Duration)
	return 1 + e.Severity*math.Exp(-(4*progress-2)*(4*progress-2)), true
}

func (f *FakeTrader) triggerShortage(e *MarketEvent) {
	distortion, active := e.distortion(f.ticks)
	if !active {
		return
	}
	if e.StartTick == f.ticks {
		e.basePrice = f.house.AverageHistoricalPrice(e.Commodity, fakeLookback)
	}
	price := e.basePrice * distortion
	if price > fakeHighPrice {
		price = fakeHighPrice
	}
	f.house.ReceiveMessage(comms.NewBidOffer(comms.BidOffer{
		Sender:    f.id,
		Commodity: e.Commodity,
		Quantity:  fakeVolume,
		UnitPrice: price,
	}))
}

func (f *FakeTrader) triggerSurplus(e *MarketEvent) {
	distortion, active := e.distortion(f.ticks)
	if !active {
		return
	}
	if e.StartTick == f.ticks {
		e.basePrice = f.house.AverageHistoricalPrice(e.Commodity, fakeLookback)
	}
	price := e.basePrice / distortion
	if price < fakeLowPrice {
		price = fakeLowPrice
	}
	f.house.ReceiveMessage(comms.NewAskOffer(comms.AskOffer{
		Sender:    f.id,
		Commodity: e.Commodity,
		Quantity:  fakeVolume,
		UnitPrice: price,
	}))
}
