package supervisor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/outerspatial/bazaarsim/pkg/exchange"
	"github.com/outerspatial/bazaarsim/pkg/storage"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

// Collector samples the auction house once per control tick into in-memory
// series for the dashboard and, when an archive is attached, into pebble
// for offline charting.
type Collector struct {
	mu      sync.RWMutex
	prices  map[string][]storage.Point
	supply  map[string][]storage.Point
	alive   map[string]int
	deaths  int
	avgAge  float64
	archive *storage.Archive
	log     *zap.SugaredLogger
}

func NewCollector(archive *storage.Archive, log *zap.SugaredLogger) *Collector {
	return &Collector{
		prices:  make(map[string][]storage.Point),
		supply:  make(map[string][]storage.Point),
		alive:   make(map[string]int),
		archive: archive,
		log:     log.Named("metrics"),
	}
}

// Sample reads the house's most-recent price and net supply per good plus
// the demographic counters.
func (c *Collector) Sample(h *exchange.House, goods []string, clock util.Clock) {
	ts := util.ToUnixMs(clock.Now())
	avgAge, alive := h.Demographics()
	deaths := h.NumDeaths()

	c.mu.Lock()
	for _, good := range goods {
		price := h.MostRecentPrice(good)
		supply := h.History().NetSupply.MostRecent(good)
		c.prices[good] = append(c.prices[good], storage.Point{TsMs: ts, Value: price})
		c.supply[good] = append(c.supply[good], storage.Point{TsMs: ts, Value: supply})
	}
	c.alive = alive
	c.deaths = deaths
	c.avgAge = avgAge
	c.mu.Unlock()

	if c.archive == nil {
		return
	}
	for _, good := range goods {
		if err := c.archive.RecordPoint("price:"+good, ts, h.MostRecentPrice(good)); err != nil {
			c.log.Warnw("archive_write_failed", "series", "price:"+good, "err", err)
		}
		if err := c.archive.RecordPoint("net_supply:"+good, ts, h.History().NetSupply.MostRecent(good)); err != nil {
			c.log.Warnw("archive_write_failed", "series", "net_supply:"+good, "err", err)
		}
	}
}

// PriceSeries returns a copy of a good's sampled prices.
func (c *Collector) PriceSeries(good string) []storage.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]storage.Point(nil), c.prices[good]...)
}

// Population returns per-class live counts, total deaths and average
// lifespan.
func (c *Collector) Population() (map[string]int, int, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	alive := make(map[string]int, len(c.alive))
	for class, n := range c.alive {
		alive[class] = n
	}
	return alive, c.deaths, c.avgAge
}
