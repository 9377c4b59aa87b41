package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rylorin/wheel-bot/internal/sqlite"
	"gopkg.in/yaml.v3"
)

// WatchItem is one wheel watch-list entry. NavRatio caps the fraction of
// NAV committable to naked puts on the name; zero keeps the symbol in the
// scan rotation but disables put selling on it.
type WatchItem struct {
	Symbol   string  `yaml:"symbol"`
	NavRatio float64 `yaml:"nav_ratio"`
}

type BenchmarkConfig struct {
	Symbol   string `yaml:"symbol"`
	Currency string `yaml:"currency"`
}

type StrategyConfig struct {
	NakedPutRatio     float64       `yaml:"naked_put_ratio"`
	CashAdjustEvery   time.Duration `yaml:"cash_adjust_cooldown"`
	NakedPutsEvery    time.Duration `yaml:"naked_puts_cooldown"`
	PutMaxDelta       float64       `yaml:"put_max_delta"`
	CallMaxDelta      float64       `yaml:"call_max_delta"`
	MinBid            float64       `yaml:"min_bid"`
	YieldDayCountBase float64       `yaml:"yield_day_count_base"`
}

const (
	_nakedPutRatioDefault   = 0.5
	_cashAdjustEveryDefault = 10 * time.Minute
	_nakedPutsEveryDefault  = 1 * time.Minute
	_putMaxDeltaDefault     = 0.2
	_callMaxDeltaDefault    = 0.15
	_minBidDefault          = 0.25
	_dayCountBaseDefault    = 360
)

func (c *StrategyConfig) Setup() {
	if c.NakedPutRatio <= 0 {
		c.NakedPutRatio = _nakedPutRatioDefault
	}
	if c.CashAdjustEvery <= 0 {
		c.CashAdjustEvery = _cashAdjustEveryDefault
	}
	if c.NakedPutsEvery <= 0 {
		c.NakedPutsEvery = _nakedPutsEveryDefault
	}
	if c.PutMaxDelta <= 0 {
		c.PutMaxDelta = _putMaxDeltaDefault
	}
	if c.CallMaxDelta <= 0 {
		c.CallMaxDelta = _callMaxDeltaDefault
	}
	if c.MinBid <= 0 {
		c.MinBid = _minBidDefault
	}
	if c.YieldDayCountBase <= 0 {
		c.YieldDayCountBase = _dayCountBaseDefault
	}
}

type ScannerConfig struct {
	TickGate          time.Duration `yaml:"tick_gate"`
	SnapshotWindow    time.Duration `yaml:"snapshot_window"`
	CycleCooldown     time.Duration `yaml:"cycle_cooldown"`
	MinExpiryDays     int           `yaml:"min_expiry_days"`
	StrikeWindow      int           `yaml:"strike_window"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
}

const (
	_tickGateDefault = 2 * time.Second
	// The broker serves snapshots in ~11s windows; add margin before the
	// next expiration's burst.
	_snapshotWindowDefault = 13 * time.Second
	_cycleCooldownDefault  = 1 * time.Hour
	_minExpiryDaysDefault  = 50
	_strikeWindowDefault   = 4
	_requestsPerSecDefault = 8
)

func (c *ScannerConfig) Setup() {
	if c.TickGate <= 0 {
		c.TickGate = _tickGateDefault
	}
	if c.SnapshotWindow <= 0 {
		c.SnapshotWindow = _snapshotWindowDefault
	}
	if c.CycleCooldown <= 0 {
		c.CycleCooldown = _cycleCooldownDefault
	}
	if c.MinExpiryDays <= 0 {
		c.MinExpiryDays = _minExpiryDaysDefault
	}
	if c.StrikeWindow <= 0 {
		c.StrikeWindow = _strikeWindowDefault
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = _requestsPerSecDefault
	}
}

type HTTPConfig struct {
	Port string `yaml:"port"`
}

func (c *HTTPConfig) Setup() {
	if c.Port == "" {
		c.Port = "8080"
	}
}

type Config struct {
	Database     sqlite.Config   `yaml:"database"`
	HTTP         HTTPConfig      `yaml:"http"`
	BaseCurrency string          `yaml:"base_currency"`
	Benchmark    BenchmarkConfig `yaml:"benchmark"`
	Strategy     StrategyConfig  `yaml:"strategy"`
	Scanner      ScannerConfig   `yaml:"scanner"`
	WatchList    []WatchItem     `yaml:"watchlist"`
}

func (c *Config) ValidateAndSetup() error {
	if c.Benchmark.Symbol == "" {
		return fmt.Errorf("empty benchmark symbol")
	}
	if c.Benchmark.Currency == "" {
		c.Benchmark.Currency = "USD"
	}
	if c.BaseCurrency == "" {
		c.BaseCurrency = "USD"
	}
	if len(c.WatchList) == 0 {
		return fmt.Errorf("empty watchlist")
	}
	for i := range c.WatchList {
		if c.WatchList[i].Symbol == "" {
			return fmt.Errorf("watchlist entry %d has no symbol", i)
		}
		if c.WatchList[i].NavRatio < 0 {
			c.WatchList[i].NavRatio = 0
		}
	}

	c.Database.Setup()
	c.HTTP.Setup()
	c.Strategy.Setup()
	c.Scanner.Setup()

	return nil
}

func Load(filename string) (Config, error) {
	var cfg Config
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
