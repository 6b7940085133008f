package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the paper-trading core.
type Config struct {
	// Market simulation
	Symbols        []string
	StartPrice     float64
	SpreadBps      float64
	StepBps        float64
	FeedIntervalMs int
	Seed           int64 // 0 means time-based seeding

	// Fill engine
	MatchIntervalMs    int
	HiddenLiquidityMin float64
	HiddenLiquidityMax float64
	BaseDepth          float64 // opposing book volume per price level
	FillLatencyMinMs   int
	FillLatencyMaxMs   int

	// Accounting
	InitialCash string // exact decimal
	FeePct      string // exact decimal, e.g. "0.001" = 10 bps

	// Watchdog
	WatchdogIntervalMs int
	MaxClockSkewMs     int
	ErrorWindowSec     int
	MaxErrors          int
	DrawdownLimitPct   float64
	MaxRateLimitHits   int

	// Order submission throttle
	SubmitRatePerSec float64
	SubmitBurst      int

	// Persistence
	DBPath              string
	SnapshotIntervalSec int

	// Instrument / profit-guard overrides
	InstrumentsFile string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Symbols:             splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		StartPrice:          getEnvFloat("FEED_START_PRICE", 100.0),
		SpreadBps:           getEnvFloat("FEED_SPREAD_BPS", 5),
		StepBps:             getEnvFloat("FEED_STEP_BPS", 8),
		FeedIntervalMs:      getEnvInt("FEED_INTERVAL_MS", 1000),
		Seed:                getEnvInt64("SIM_SEED", 0),
		MatchIntervalMs:     getEnvInt("MATCH_INTERVAL_MS", 500),
		HiddenLiquidityMin:  getEnvFloat("HIDDEN_LIQUIDITY_MIN", 0.3),
		HiddenLiquidityMax:  getEnvFloat("HIDDEN_LIQUIDITY_MAX", 1.0),
		BaseDepth:           getEnvFloat("BASE_DEPTH", 2.0),
		FillLatencyMinMs:    getEnvInt("FILL_LATENCY_MIN_MS", 5),
		FillLatencyMaxMs:    getEnvInt("FILL_LATENCY_MAX_MS", 120),
		InitialCash:         getEnv("INITIAL_CASH", "10000"),
		FeePct:              getEnv("FEE_PCT", "0.001"),
		WatchdogIntervalMs:  getEnvInt("WATCHDOG_INTERVAL_MS", 1000),
		MaxClockSkewMs:      getEnvInt("MAX_CLOCK_SKEW_MS", 3000),
		ErrorWindowSec:      getEnvInt("ERROR_WINDOW_SEC", 60),
		MaxErrors:           getEnvInt("MAX_ERRORS", 10),
		DrawdownLimitPct:    getEnvFloat("DRAWDOWN_LIMIT_PCT", 1.0),
		MaxRateLimitHits:    getEnvInt("MAX_RATE_LIMIT_HITS", 5),
		SubmitRatePerSec:    getEnvFloat("SUBMIT_RATE_PER_SEC", 5),
		SubmitBurst:         getEnvInt("SUBMIT_BURST", 10),
		DBPath:              getEnv("DB_PATH", "./data/papertrade.db"),
		SnapshotIntervalSec: getEnvInt("SNAPSHOT_INTERVAL_SEC", 60),
		InstrumentsFile:     getEnv("INSTRUMENTS_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: SYMBOLS must name at least one symbol")
	}
	if c.HiddenLiquidityMin < 0 || c.HiddenLiquidityMax < c.HiddenLiquidityMin {
		return fmt.Errorf("config: hidden liquidity bounds invalid: [%v, %v]",
			c.HiddenLiquidityMin, c.HiddenLiquidityMax)
	}
	if c.MatchIntervalMs <= 0 {
		return fmt.Errorf("config: MATCH_INTERVAL_MS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
