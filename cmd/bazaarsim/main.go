// bazaarsim runs the multi-agent bazaar economy: one auction house, a
// supervised population of producer/consumer agents, and an optional live
// chart dashboard.
//
// Usage: bazaarsim [duration_seconds] [fps] [agent_ticks_per_second]
//
// All three arguments are optional and numeric. fps 0 (the default)
// disables the dashboard.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outerspatial/bazaarsim/params"
	"github.com/outerspatial/bazaarsim/pkg/api"
	"github.com/outerspatial/bazaarsim/pkg/exchange"
	"github.com/outerspatial/bazaarsim/pkg/market"
	"github.com/outerspatial/bazaarsim/pkg/storage"
	"github.com/outerspatial/bazaarsim/pkg/supervisor"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")
	if err := parseArgs(&cfg, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "usage: %s [duration_seconds] [fps] [agent_ticks_per_second]\n", os.Args[0])
		os.Exit(2)
	}

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("simulation_starting",
		"duration", cfg.Duration,
		"fps", cfg.FPS,
		"trader_tick", cfg.Trader.TickTime,
	)

	clock := util.RealClock{}
	rng := util.NewRand(time.Now().UnixNano())

	house := exchange.NewHouse(0, cfg.House, cfg.Economy, clock, sugar)
	for _, c := range market.DefaultCommodities() {
		house.RegisterCommodity(c)
	}

	var archive *storage.Archive
	if cfg.Storage.MetricsDir != "" {
		archive, err = storage.Open(cfg.Storage.MetricsDir)
		if err != nil {
			sugar.Warnw("metrics_archive_unavailable", "err", err)
			archive = nil
		} else {
			defer archive.Close()
		}
	}

	collector := supervisor.NewCollector(archive, sugar)
	sup := supervisor.New(cfg, house, collector, clock, rng, logger)

	house.StartPump()
	// Initial roster: one producer per good, then top up round-robin.
	goods := sup.Goods()
	for i := 0; i < cfg.Supervisor.TargetPopulation; i++ {
		sup.Spawn(market.ProducerOf(goods[i%len(goods)]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		house.Run(cfg.Duration)
		cancel()
		return nil
	})
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	if cfg.FPS > 0 {
		server := api.NewServer(house, collector, clock, sugar)
		g.Go(func() error {
			return server.Start(gctx, cfg.Dashboard.Addr)
		})
		g.Go(func() error {
			server.StartBroadcast(gctx, cfg.FPS)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sugar.Errorw("simulation_failed", "err", err)
		os.Exit(1)
	}

	printSummary(house, goods)
}

// parseArgs applies the positional overrides: duration in seconds, chart
// fps, agent ticks per second.
func parseArgs(cfg *params.Config, args []string) error {
	if len(args) > 0 {
		seconds, err := strconv.ParseFloat(args[0], 64)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid duration %q", args[0])
		}
		cfg.Duration = time.Duration(seconds * float64(time.Second))
	}
	if len(args) > 1 {
		fps, err := strconv.ParseFloat(args[1], 64)
		if err != nil || fps < 0 {
			return fmt.Errorf("invalid fps %q", args[1])
		}
		cfg.FPS = fps
	}
	if len(args) > 2 {
		rate, err := strconv.ParseFloat(args[2], 64)
		if err != nil || rate <= 0 {
			return fmt.Errorf("invalid tick rate %q", args[2])
		}
		cfg.SetTraderTick(time.Duration(float64(time.Second) / rate))
	}
	return nil
}

func printSummary(house *exchange.House, goods []string) {
	sorted := append([]string(nil), goods...)
	sort.Strings(sorted)

	fmt.Println("--- simulation summary ---")
	for _, good := range sorted {
		fmt.Printf("%-12s $%8.2f  (%+.1f%% over last 10s)\n",
			good,
			house.MostRecentPrice(good),
			house.PricePercentageChange(good, 10*time.Second),
		)
	}
	avgAge, _ := house.Demographics()
	fmt.Printf("spread profit:     $%.2f\n", house.SpreadProfit())
	fmt.Printf("avg agent lifespan: %.1f ticks (%d deaths)\n", avgAge, house.NumDeaths())
}
