package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Economy holds the money-side constants applied by the auction house and
// every trader.
type Economy struct {
	SalesTaxRate  float64 // fraction of clearing notional withheld from the seller
	BrokerFeeRate float64 // fraction of q*p charged when a resting order enters the book
	MinPrice      float64 // floor for generated bid prices
	IdleTax       float64 // debit for a trader that could not produce this tick
	StartingMoney float64
	InvCapacity   float64
}

// AuctionHouse paces the clearing loop and the message pump.
type AuctionHouse struct {
	TickTime        time.Duration // one clearing pass over every commodity
	PumpInterval    time.Duration // inbox/outbox flush cadence
	MaxMsgsPerFlush int
}

// Trader paces the agent tick loop and sizes the pricing windows.
type Trader struct {
	TickTime         time.Duration
	MaxMsgsPerFlush  int
	InternalLookback int           // observed-trade window, in fills
	ExternalLookback time.Duration // market history window for pricing
}

// Supervisor controls the respawn loop.
type Supervisor struct {
	StepTime         time.Duration
	TargetPopulation int
	RespawnGamma     float64       // weight exponent on recent net supply
	SupplyLookback   time.Duration // history window for the weighted draw
}

type Dashboard struct {
	Addr string
}

type Storage struct {
	MetricsDir string
}

type Config struct {
	Economy    Economy
	House      AuctionHouse
	Trader     Trader
	Supervisor Supervisor
	Dashboard  Dashboard
	Storage    Storage

	Duration time.Duration // total simulation run time
	FPS      float64       // dashboard broadcast rate; 0 disables the dashboard
	LogFile  string
}

func Default() Config {
	traderTick := 500 * time.Millisecond // 2 ticks/sec
	return Config{
		Economy: Economy{
			SalesTaxRate:  0.08,
			BrokerFeeRate: 0.03,
			MinPrice:      0.10,
			IdleTax:       20,
			StartingMoney: 100,
			InvCapacity:   50,
		},
		House: AuctionHouse{
			TickTime:        10 * time.Millisecond,
			PumpInterval:    time.Millisecond,
			MaxMsgsPerFlush: 800,
		},
		Trader: Trader{
			TickTime:         traderTick,
			MaxMsgsPerFlush:  100,
			InternalLookback: 50,
			ExternalLookback: 50 * traderTick,
		},
		Supervisor: Supervisor{
			StepTime:         100 * time.Millisecond,
			TargetPopulation: 30,
			RespawnGamma:     -0.02,
			SupplyLookback:   time.Second,
		},
		Dashboard: Dashboard{
			Addr: ":8080",
		},
		Storage: Storage{
			MetricsDir: "data/metrics",
		},
		Duration: 60 * time.Second,
		FPS:      0,
		LogFile:  "data/sim.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v, ok := envFloat("SALES_TAX_RATE"); ok {
		cfg.Economy.SalesTaxRate = v
	}
	if v, ok := envFloat("BROKER_FEE_RATE"); ok {
		cfg.Economy.BrokerFeeRate = v
	}
	if v, ok := envFloat("IDLE_TAX"); ok {
		cfg.Economy.IdleTax = v
	}
	if v, ok := envFloat("STARTING_MONEY"); ok {
		cfg.Economy.StartingMoney = v
	}
	if v, ok := envInt("AH_TICK_MS"); ok {
		cfg.House.TickTime = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("TRADER_TICK_MS"); ok {
		cfg.SetTraderTick(time.Duration(v) * time.Millisecond)
	}
	if v, ok := envInt("TARGET_POPULATION"); ok {
		cfg.Supervisor.TargetPopulation = v
	}
	if addr := os.Getenv("DASHBOARD_ADDR"); addr != "" {
		cfg.Dashboard.Addr = addr
	}
	if dir := os.Getenv("METRICS_DIR"); dir != "" {
		cfg.Storage.MetricsDir = dir
	}
	if f := os.Getenv("LOG_FILE"); f != "" {
		cfg.LogFile = f
	}
	return cfg
}

// SetTraderTick updates the agent tick time and keeps the time-windowed
// pricing lookback proportional to it.
func (c *Config) SetTraderTick(d time.Duration) {
	c.Trader.TickTime = d
	c.Trader.ExternalLookback = time.Duration(c.Trader.InternalLookback) * d
}

func envFloat(key string) (float64, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
