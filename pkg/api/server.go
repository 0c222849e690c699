// Package api serves the live chart: a small REST surface over the auction
// house's history plus a websocket stream of per-frame price snapshots.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/outerspatial/bazaarsim/pkg/exchange"
	"github.com/outerspatial/bazaarsim/pkg/supervisor"
	"github.com/outerspatial/bazaarsim/pkg/util"
)

type Server struct {
	house     *exchange.House
	collector *supervisor.Collector
	clock     util.Clock
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger
	srv       *http.Server
}

func NewServer(house *exchange.House, collector *supervisor.Collector, clock util.Clock, log *zap.SugaredLogger) *Server {
	s := &Server{
		house:     house,
		collector: collector,
		clock:     clock,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		log:       log.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/commodities", s.handleGetCommodities).Methods("GET")
	api.HandleFunc("/history/{commodity}", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/demographics", s.handleGetDemographics).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.hub.handle)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"})
	}).Methods("GET")
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.srv = &http.Server{Addr: addr, Handler: c.Handler(s.router)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("server_starting", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StartBroadcast pushes one snapshot per frame to the websocket hub until
// the context ends.
func (s *Server) StartBroadcast(ctx context.Context, fps float64) {
	if fps <= 0 {
		return
	}
	interval := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.house.Done():
			return
		case <-ticker.C:
			s.hub.Broadcast(s.snapshot())
		}
	}
}

func (s *Server) snapshot() TickUpdate {
	update := TickUpdate{
		TsMs:         util.ToUnixMs(s.clock.Now()),
		Prices:       make(map[string]float64),
		NetSupply:    make(map[string]float64),
		Traders:      s.house.NumTraders(),
		SpreadProfit: s.house.SpreadProfit(),
	}
	for _, c := range s.house.Commodities() {
		update.Prices[c.Name] = s.house.MostRecentPrice(c.Name)
		update.NetSupply[c.Name] = s.house.History().NetSupply.MostRecent(c.Name)
	}
	return update
}

func (s *Server) handleGetCommodities(w http.ResponseWriter, r *http.Request) {
	commodities := s.house.Commodities()
	out := make([]CommodityInfo, 0, len(commodities))
	for _, c := range commodities {
		out = append(out, CommodityInfo{
			Name:           c.Name,
			Size:           c.Size,
			Price:          s.house.MostRecentPrice(c.Name),
			BuyPrice:       s.house.MostRecentBuyPrice(c.Name),
			NetSupplyAvg:   s.house.TAverageHistoricalSupply(c.Name, 10*time.Second),
			TradesPerTick:  s.house.History().Trades.Average(c.Name, 100),
			PriceChangePct: s.house.PricePercentageChange(c.Name, 10*time.Second),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	commodity := mux.Vars(r)["commodity"]
	known := false
	for _, c := range s.house.Commodities() {
		if c.Name == commodity {
			known = true
			break
		}
	}
	if !known {
		respondError(w, http.StatusNotFound, "unknown commodity", commodity)
		return
	}
	points := s.collector.PriceSeries(commodity)
	out := make([]HistoryPoint, len(points))
	for i, p := range points {
		out[i] = HistoryPoint{TsMs: p.TsMs, Value: p.Value}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetDemographics(w http.ResponseWriter, r *http.Request) {
	alive, deaths, avgAge := s.collector.Population()
	respondJSON(w, DemographicsInfo{Alive: alive, Deaths: deaths, AvgLifespan: avgAge})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusInfo{
		Traders:      s.house.NumTraders(),
		SpreadProfit: s.house.SpreadProfit(),
	})
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Detail: detail})
}
