package market

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outerspatial/bazaarsim/pkg/util"
)

// LogKind selects the seed value a commodity starts with: price-like logs
// seed at SeedPrice so early pricing has a reference, volume-like logs at 0.
type LogKind int

const (
	KindPrice LogKind = iota
	KindVolume
)

const (
	// SeedPrice is the reference price every commodity starts at.
	SeedPrice = 10.0
	// MaxSamples bounds each commodity's series; oldest samples are evicted.
	MaxSamples = 60000
)

// Sample is one time-stamped observation.
type Sample struct {
	Value float64
	TsMs  int64
}

// HistoryLog keeps a bounded per-commodity series of samples plus an atomic
// most-recent slot so single-point reads do not scan the series.
// Timestamps are forced non-decreasing within a commodity.
type HistoryLog struct {
	kind  LogKind
	clock util.Clock

	mu         sync.RWMutex
	series     map[string][]Sample
	mostRecent map[string]*atomic.Uint64 // float64 bits
}

func NewHistoryLog(kind LogKind, clock util.Clock) *HistoryLog {
	return &HistoryLog{
		kind:       kind,
		clock:      clock,
		series:     make(map[string][]Sample),
		mostRecent: make(map[string]*atomic.Uint64),
	}
}

// Initialise registers a commodity with its seed sample. Idempotent.
func (l *HistoryLog) Initialise(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.series[name]; ok {
		return
	}
	seed := 0.0
	if l.kind == KindPrice {
		seed = SeedPrice
	}
	l.series[name] = []Sample{{Value: seed, TsMs: util.ToUnixMs(l.clock.Now())}}
	slot := &atomic.Uint64{}
	slot.Store(math.Float64bits(seed))
	l.mostRecent[name] = slot
}

// Add appends (value, now), evicting the oldest sample at capacity.
// Unknown commodities are dropped.
func (l *HistoryLog) Add(name string, value float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.series[name]
	if !ok {
		return
	}
	ts := util.ToUnixMs(l.clock.Now())
	if n := len(s); n > 0 && s[n-1].TsMs > ts {
		ts = s[n-1].TsMs
	}
	if len(s) == MaxSamples {
		s = s[1:]
	}
	l.series[name] = append(s, Sample{Value: value, TsMs: ts})
	l.mostRecent[name].Store(math.Float64bits(value))
}

// MostRecent returns the last-pushed value from the atomic slot. The read
// lock is held only to look the slot up, not while reading its value.
func (l *HistoryLog) MostRecent(name string) float64 {
	l.mu.RLock()
	slot, ok := l.mostRecent[name]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return math.Float64frombits(slot.Load())
}

// Average returns the arithmetic mean of the last min(n, len) samples.
// n == 1 reads the most-recent slot directly.
func (l *HistoryLog) Average(name string, n int) float64 {
	if n == 1 {
		return l.MostRecent(name)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.series[name]
	if !ok || len(s) == 0 || n <= 0 {
		return 0
	}
	if n > len(s) {
		n = len(s)
	}
	var total float64
	for i := len(s) - n; i < len(s); i++ {
		total += s[i].Value
	}
	return total / float64(n)
}

// TAverage returns the mean over samples with timestamp >= last − window.
// A window holding no samples yields 0.
func (l *HistoryLog) TAverage(name string, window time.Duration) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.series[name]
	if !ok || len(s) == 0 {
		return 0
	}
	start := s[len(s)-1].TsMs - window.Milliseconds()
	var total float64
	var count int
	for i := len(s) - 1; i >= 0 && s[i].TsMs >= start; i-- {
		total += s[i].Value
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// PercentageChange reports 100*(current−past)/past against the sample n
// positions back, clamped to the series start.
func (l *HistoryLog) PercentageChange(name string, n int) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.series[name]
	if !ok || len(s) == 0 {
		return 0
	}
	var prev float64
	if n <= len(s) {
		prev = s[len(s)-n].Value
	} else {
		prev = s[0].Value
	}
	if prev == 0 {
		return 0
	}
	curr := s[len(s)-1].Value
	return 100 * (curr - prev) / prev
}

// TPercentageChange is PercentageChange against the sample just outside the
// time window, falling back to the earliest sample.
func (l *HistoryLog) TPercentageChange(name string, window time.Duration) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.series[name]
	if !ok || len(s) == 0 {
		return 0
	}
	start := s[len(s)-1].TsMs - window.Milliseconds()
	i := len(s) - 1
	for i >= 0 && s[i].TsMs >= start {
		i--
	}
	var prev float64
	if i < 0 {
		prev = s[0].Value
	} else {
		prev = s[i].Value
	}
	if prev == 0 {
		return 0
	}
	curr := s[len(s)-1].Value
	return 100 * (curr - prev) / prev
}

// Since returns a copy of the samples with timestamp >= fromMs.
func (l *HistoryLog) Since(name string, fromMs int64) []Sample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.series[name]
	if !ok {
		return nil
	}
	out := make([]Sample, 0, len(s))
	for _, sample := range s {
		if sample.TsMs >= fromMs {
			out = append(out, sample)
		}
	}
	return out
}

// History bundles the six rolling series the auction house maintains per
// commodity.
type History struct {
	Prices    *HistoryLog // volume-weighted clearing price
	BuyPrices *HistoryLog // volume-weighted bid (buy) price
	Asks      *HistoryLog // total ask quantity per tick
	Bids      *HistoryLog // total bid quantity per tick
	NetSupply *HistoryLog // asks minus bids
	Trades    *HistoryLog // trade count per tick
}

func NewHistory(clock util.Clock) *History {
	return &History{
		Prices:    NewHistoryLog(KindPrice, clock),
		BuyPrices: NewHistoryLog(KindPrice, clock),
		Asks:      NewHistoryLog(KindVolume, clock),
		Bids:      NewHistoryLog(KindVolume, clock),
		NetSupply: NewHistoryLog(KindVolume, clock),
		Trades:    NewHistoryLog(KindVolume, clock),
	}
}

func (h *History) Initialise(name string) {
	h.Prices.Initialise(name)
	h.BuyPrices.Initialise(name)
	h.Asks.Initialise(name)
	h.Bids.Initialise(name)
	h.NetSupply.Initialise(name)
	h.Trades.Initialise(name)
}
