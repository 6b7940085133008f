package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/internal/engine"
	"papertrade-core/internal/events"
	"papertrade-core/internal/fill"
	"papertrade-core/internal/journal"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/market"
	"papertrade-core/internal/notify"
	"papertrade-core/internal/pricing"
	"papertrade-core/internal/profitguard"
	"papertrade-core/internal/watchdog"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := newLogger()
	defer logger.Sync()
	slog := logger.Sugar()
	slog.Infow("starting", "symbols", cfg.Symbols, "db_path", cfg.DBPath)

	initialCash, err := decimal.NewFromString(cfg.InitialCash)
	if err != nil {
		slog.Fatalw("invalid INITIAL_CASH", "value", cfg.InitialCash, "error", err)
	}
	feePct, err := decimal.NewFromString(cfg.FeePct)
	if err != nil {
		slog.Fatalw("invalid FEE_PCT", "value", cfg.FeePct, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	defer bus.Close()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		slog.Fatalw("db init failed", "error", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		slog.Fatalw("db migrations failed", "error", err)
	}

	// Tick table and optional per-instrument overrides
	ticks := pricing.NewTable(decimal.NewFromFloat(0.01))
	guardCfg := profitguard.DefaultConfig()
	if cfg.InstrumentsFile != "" {
		file, err := config.LoadInstruments(cfg.InstrumentsFile)
		if err != nil {
			slog.Fatalw("instruments file load failed", "path", cfg.InstrumentsFile, "error", err)
		}
		for _, inst := range file.Instruments {
			tick, err := decimal.NewFromString(inst.TickSize)
			if err != nil {
				slog.Fatalw("invalid tick size", "symbol", inst.Symbol, "value", inst.TickSize)
			}
			ticks.Set(inst.Symbol, tick)
		}
		applyGuardOverrides(&guardCfg, file.ProfitGuard)
		slog.Infow("instruments loaded", "path", cfg.InstrumentsFile, "count", len(file.Instruments))
	}

	// Market data
	feed := market.NewMockFeed(bus, cfg.Symbols, cfg.StartPrice, cfg.SpreadBps, cfg.StepBps,
		time.Duration(cfg.FeedIntervalMs)*time.Millisecond, cfg.Seed, slog)
	feed.Start(ctx)
	defer feed.Stop()

	// Execution
	sim := fill.NewSimulator(fill.SimConfig{
		BaseDepth:  decimal.NewFromFloat(cfg.BaseDepth),
		HiddenMin:  cfg.HiddenLiquidityMin,
		HiddenMax:  cfg.HiddenLiquidityMax,
		LatencyMin: time.Duration(cfg.FillLatencyMinMs) * time.Millisecond,
		LatencyMax: time.Duration(cfg.FillLatencyMaxMs) * time.Millisecond,
	}, cfg.Seed)
	fillEngine := fill.NewEngine(fill.Config{
		MatchInterval: time.Duration(cfg.MatchIntervalMs) * time.Millisecond,
	}, feed.Quote, ticks, sim, bus, slog)

	// Accounting and risk
	book := ledger.New(initialCash, feePct, slog)
	notifier := notify.NewLogNotifier(slog)
	dog := watchdog.New(watchdog.Config{
		CheckInterval:    time.Duration(cfg.WatchdogIntervalMs) * time.Millisecond,
		MaxClockSkew:     time.Duration(cfg.MaxClockSkewMs) * time.Millisecond,
		ErrorWindow:      time.Duration(cfg.ErrorWindowSec) * time.Second,
		MaxErrors:        cfg.MaxErrors,
		DrawdownLimitPct: cfg.DrawdownLimitPct,
		MaxRateLimitHits: cfg.MaxRateLimitHits,
	}, feed.ClockSkew, notifier, bus, slog)
	dog.Start(ctx)
	defer dog.Stop()
	guard := profitguard.New(guardCfg, slog)

	// Orchestrator
	svc := engine.New(engine.Config{
		SubmitRatePerSec: cfg.SubmitRatePerSec,
		SubmitBurst:      cfg.SubmitBurst,
	}, fillEngine, book, dog, guard, feed.Quote, cfg.Symbols, bus, slog)
	svc.Start(ctx)
	defer svc.Stop()

	// Journal
	journalCfg := journal.DefaultConfig()
	journalCfg.SnapshotInterval = time.Duration(cfg.SnapshotIntervalSec) * time.Second
	recorder := journal.NewRecorder(journalCfg, database, bus, book, fillEngine.Order, slog)
	recorder.Start(ctx)
	defer recorder.Stop()

	slog.Infow("engine running",
		"match_interval_ms", cfg.MatchIntervalMs,
		"submit_rate_per_sec", cfg.SubmitRatePerSec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Infow("shutting down")
}

func newLogger() *zap.Logger {
	if os.Getenv("APP_ENV") == "development" {
		logger, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("logger init failed: %v", err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	return logger
}

func applyGuardOverrides(cfg *profitguard.Config, o *config.GuardOverrides) {
	if o == nil {
		return
	}
	if len(o.Steps) > 0 {
		steps := make([]profitguard.ScaleStep, 0, len(o.Steps))
		for _, s := range o.Steps {
			steps = append(steps, profitguard.ScaleStep{ThresholdPct: s.ThresholdPct, Scale: s.Scale})
		}
		cfg.Steps = steps
	}
	if o.LockAtPct != nil {
		cfg.LockAtPct = *o.LockAtPct
	}
	if o.TrailDistancePct != nil {
		cfg.TrailDistancePct = *o.TrailDistancePct
	}
	if o.DailyLossLimitPct != nil {
		cfg.DailyLossLimitPct = *o.DailyLossLimitPct
	}
	if o.MaxConsecutiveLosses != nil {
		cfg.MaxConsecutiveLosses = *o.MaxConsecutiveLosses
	}
	if o.MaxPositionPct != nil {
		cfg.MaxPositionPct = *o.MaxPositionPct
	}
}
