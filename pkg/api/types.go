package api

// CommodityInfo describes one tradeable good and its latest prices.
type CommodityInfo struct {
	Name           string  `json:"name"`
	Size           float64 `json:"size"`
	Price          float64 `json:"price"`
	BuyPrice       float64 `json:"buy_price"`
	NetSupplyAvg   float64 `json:"net_supply_avg"`
	TradesPerTick  float64 `json:"trades_per_tick"`
	PriceChangePct float64 `json:"price_change_pct"` // over the last 10 s
}

// HistoryPoint is one sample of a commodity's series.
type HistoryPoint struct {
	TsMs  int64   `json:"ts_ms"`
	Value float64 `json:"value"`
}

// DemographicsInfo reports the live population and mortality.
type DemographicsInfo struct {
	Alive       map[string]int `json:"alive"`
	Deaths      int            `json:"deaths"`
	AvgLifespan float64        `json:"avg_lifespan_ticks"`
}

// StatusInfo is the top-level simulation snapshot.
type StatusInfo struct {
	Traders      int     `json:"traders"`
	SpreadProfit float64 `json:"spread_profit"`
}

// TickUpdate is the per-frame websocket broadcast.
type TickUpdate struct {
	TsMs         int64              `json:"ts_ms"`
	Prices       map[string]float64 `json:"prices"`
	NetSupply    map[string]float64 `json:"net_supply"`
	Traders      int                `json:"traders"`
	SpreadProfit float64            `json:"spread_profit"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
