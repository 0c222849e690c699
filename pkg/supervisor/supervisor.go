// Package supervisor owns the agent population: it seeds the initial
// roster, replaces dead agents with roles weighted toward undersupplied
// commodities, and samples per-tick metrics.
package supervisor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/outerspatial/bazaarsim/params"
	"github.com/outerspatial/bazaarsim/pkg/exchange"
	"github.com/outerspatial/bazaarsim/pkg/inventory"
	"github.com/outerspatial/bazaarsim/pkg/market"
	"github.com/outerspatial/bazaarsim/pkg/trader"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

type Supervisor struct {
	cfg    params.Config
	house  *exchange.House
	clock  util.Clock
	rng    *util.Rand
	log    *zap.SugaredLogger
	logger *zap.Logger // root, handed to spawned traders

	goods  []string
	nextID atomic.Int64

	collector *Collector
	wg        sync.WaitGroup
}

func New(cfg params.Config, house *exchange.House, collector *Collector, clock util.Clock, rng *util.Rand, logger *zap.Logger) *Supervisor {
	goods := make([]string, 0)
	for _, c := range house.Commodities() {
		goods = append(goods, c.Name)
	}
	s := &Supervisor{
		cfg:       cfg,
		house:     house,
		clock:     clock,
		rng:       rng,
		log:       logger.Sugar().Named("supervisor"),
		logger:    logger,
		goods:     goods,
		collector: collector,
	}
	s.nextID.Store(int64(house.ID()) + 1)
	return s
}

// Goods lists the commodities tracked for metrics and respawn weighting.
func (s *Supervisor) Goods() []string {
	return append([]string(nil), s.goods...)
}

// ChooseNewClass draws a producer role with weight exp(gamma * recent net
// supply): the scarcer a good, the likelier its producer is spawned.
func (s *Supervisor) ChooseNewClass() string {
	weights := make([]float64, len(s.goods))
	for i, good := range s.goods {
		supply := s.house.TAverageHistoricalSupply(good, s.cfg.Supervisor.SupplyLookback)
		weights[i] = math.Exp(s.cfg.Supervisor.RespawnGamma * supply)
	}
	choice := s.rng.WeightedChoice(weights)
	if choice < 0 {
		return ""
	}
	return market.ProducerOf(s.goods[choice])
}

// Spawn creates a trader of the given class on its own goroutine and
// enqueues its registration.
func (s *Supervisor) Spawn(className string) *trader.AITrader {
	role := trader.RoleFor(className, s.rng)
	if role == nil {
		s.log.Warnw("unknown_class", "class", className)
		return nil
	}
	id := int(s.nextID.Add(1))
	t, err := trader.NewAITrader(id, s.house, role, className,
		s.cfg.Trader, s.cfg.Economy, StartingInventory(className), s.clock, s.rng, s.logger.Sugar())
	if err != nil {
		s.log.Errorw("spawn_failed", "class", className, "err", err)
		return nil
	}
	t.Register()
	t.TickOnce()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.Run()
	}()
	return t
}

// Run drives the control loop until the context ends or the house dies,
// then waits for the agent goroutines to drain.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.wg.Wait()
	ticker := time.NewTicker(s.cfg.Supervisor.StepTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.house.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Supervisor) step() {
	missing := s.cfg.Supervisor.TargetPopulation - s.house.NumTraders()
	for i := 0; i < missing; i++ {
		if class := s.ChooseNewClass(); class != "" {
			s.Spawn(class)
		}
	}
	if missing > 0 {
		s.log.Debugw("population_topped_up", "spawned", missing)
	}
	s.collector.Sample(s.house, s.goods, s.clock)
}

// StartingInventory builds a role's initial stores: inputs stocked to their
// ideals, outputs starting empty so the first surpluses come from real
// production.
func StartingInventory(className string) []inventory.Item {
	switch className {
	case "farmer":
		return []inventory.Item{
			{Name: "food", Stored: 0, Ideal: 0, Size: 1},
			{Name: "fertilizer", Stored: 5, Ideal: 5, Size: 1},
			{Name: "wood", Stored: 5, Ideal: 5, Size: 1},
			{Name: "tools", Stored: 1, Ideal: 1, Size: 1},
		}
	case "woodcutter":
		return []inventory.Item{
			{Name: "wood", Stored: 0, Ideal: 0, Size: 1},
			{Name: "food", Stored: 5, Ideal: 5, Size: 1},
			{Name: "tools", Stored: 1, Ideal: 1, Size: 1},
		}
	case "composter":
		return []inventory.Item{
			{Name: "fertilizer", Stored: 0, Ideal: 0, Size: 1},
			{Name: "food", Stored: 5, Ideal: 5, Size: 1},
		}
	case "miner":
		return []inventory.Item{
			{Name: "ore", Stored: 0, Ideal: 0, Size: 1},
			{Name: "food", Stored: 5, Ideal: 5, Size: 1},
			{Name: "tools", Stored: 1, Ideal: 1, Size: 1},
		}
	case "refiner":
		return []inventory.Item{
			{Name: "metal", Stored: 0, Ideal: 0, Size: 1},
			{Name: "ore", Stored: 5, Ideal: 5, Size: 1},
			{Name: "food", Stored: 5, Ideal: 5, Size: 1},
			{Name: "tools", Stored: 1, Ideal: 1, Size: 1},
		}
	case "blacksmith":
		return []inventory.Item{
			{Name: "tools", Stored: 0, Ideal: 0, Size: 1},
			{Name: "metal", Stored: 5, Ideal: 5, Size: 1},
			{Name: "food", Stored: 5, Ideal: 5, Size: 1},
		}
	default:
		return nil
	}
}
