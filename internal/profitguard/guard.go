package profitguard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScaleStep maps a daily-P&L threshold (percent) to a position scale factor.
// Steps are evaluated in ascending threshold order; once daily P&L reaches a
// threshold, that step's (smaller) scale applies.
type ScaleStep struct {
	ThresholdPct float64
	Scale        float64
}

// Config tunes the profit lock.
type Config struct {
	Steps                []ScaleStep
	LockAtPct            float64 // arms the trailing lock
	TrailDistancePct     float64 // distance the stop trails behind daily P&L
	DailyLossLimitPct    float64 // emergency stop, e.g. -2.0
	MaxConsecutiveLosses int
	MaxPositionPct       float64 // ceiling for scaled position size
	MinScale             float64
}

// DefaultConfig returns the stock profit-lock ladder: the more of the day's
// profit is on the table, the smaller each new position gets.
func DefaultConfig() Config {
	return Config{
		Steps: []ScaleStep{
			{ThresholdPct: 0.3, Scale: 0.8},
			{ThresholdPct: 0.5, Scale: 0.5},
			{ThresholdPct: 0.7, Scale: 0.2},
		},
		LockAtPct:            0.5,
		TrailDistancePct:     0.3,
		DailyLossLimitPct:    -2.0,
		MaxConsecutiveLosses: 5,
		MaxPositionPct:       10.0,
		MinScale:             0.2,
	}
}

// State is the guard's status export.
type State struct {
	DailyPnLPct       float64   `json:"daily_pnl_pct"`
	DailyHWMPct       float64   `json:"daily_hwm_pct"`
	TrailingStopPct   *float64  `json:"trailing_stop_pct,omitempty"`
	ScaleFactor       float64   `json:"scale_factor"`
	Blocked           bool      `json:"blocked"`
	Reason            string    `json:"reason,omitempty"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	Timestamp         time.Time `json:"timestamp"`
}

// Guard locks in intraday profit: it shrinks position sizing as the day's
// P&L grows and blocks trading outright when a trailing stop or emergency
// limit is hit. It runs independently of the watchdog.
type Guard struct {
	cfg Config
	log *zap.SugaredLogger

	mu           sync.Mutex
	dailyPnL     float64
	dailyHWM     float64
	trailingStop *float64
	scale        float64
	blocked      bool
	blockReason  string
	consecLosses int

	now func() time.Time
}

// New creates a guard with steps sorted ascending by threshold.
func New(cfg Config, log *zap.SugaredLogger) *Guard {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	steps := make([]ScaleStep, len(cfg.Steps))
	copy(steps, cfg.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].ThresholdPct < steps[j].ThresholdPct })
	cfg.Steps = steps

	return &Guard{
		cfg:   cfg,
		log:   log,
		scale: 1.0,
		now:   time.Now,
	}
}

// UpdatePnL feeds the ledger-derived daily P&L percentage and re-evaluates
// the scale ladder, the trailing lock, and the daily loss limit.
func (g *Guard) UpdatePnL(dailyPct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dailyPnL = dailyPct
	if dailyPct > g.dailyHWM {
		g.dailyHWM = dailyPct
	}

	// Scale ladder: the lowest scale among all met thresholds wins.
	scale := 1.0
	for _, step := range g.cfg.Steps {
		if dailyPct >= step.ThresholdPct && step.Scale < scale {
			scale = step.Scale
		}
	}
	if g.cfg.MinScale > 0 && scale < g.cfg.MinScale {
		scale = g.cfg.MinScale
	}
	if scale != g.scale {
		g.log.Infow("position scale adjusted", "daily_pnl_pct", dailyPct, "scale", scale)
	}
	g.scale = scale

	// Trailing lock: arms once, then only ever rises.
	if g.trailingStop == nil {
		if g.cfg.LockAtPct > 0 && dailyPct >= g.cfg.LockAtPct {
			stop := dailyPct - g.cfg.TrailDistancePct
			g.trailingStop = &stop
			g.log.Infow("trailing profit lock armed", "stop_pct", stop)
		}
	} else if raised := dailyPct - g.cfg.TrailDistancePct; raised > *g.trailingStop {
		*g.trailingStop = raised
	}
	if g.trailingStop != nil && dailyPct <= *g.trailingStop {
		g.blockLocked("trailing stop hit")
	}

	// Emergency stop, independent of the trailing lock.
	if dailyPct <= g.cfg.DailyLossLimitPct {
		g.blockLocked(fmt.Sprintf("daily loss limit: %.2f%% <= %.2f%%", dailyPct, g.cfg.DailyLossLimitPct))
	}
}

// ReportTradeResult feeds realized trade outcomes to the consecutive-loss
// emergency stop.
func (g *Guard) ReportTradeResult(isWin bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if isWin {
		g.consecLosses = 0
		return
	}
	g.consecLosses++
	if g.cfg.MaxConsecutiveLosses > 0 && g.consecLosses >= g.cfg.MaxConsecutiveLosses {
		g.blockLocked(fmt.Sprintf("consecutive losses: %d", g.consecLosses))
	}
}

// CanOpenPosition gates new positions: blocked state wins, then the scaled
// size must stay within the configured ceiling. sizePct is the requested
// position size as a percent of equity.
func (g *Guard) CanOpenPosition(sizePct float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.blocked {
		return false, g.blockReason
	}
	if g.cfg.MaxPositionPct > 0 && sizePct*g.scale > g.cfg.MaxPositionPct {
		return false, fmt.Sprintf("scaled size %.2f%% exceeds max position %.2f%%",
			sizePct*g.scale, g.cfg.MaxPositionPct)
	}
	return true, ""
}

// ScaleFactor returns the current sizing multiplier.
func (g *Guard) ScaleFactor() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scale
}

// Blocked reports the gate state and reason.
func (g *Guard) Blocked() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked, g.blockReason
}

// ResetDaily clears all intraday state. Must be called exactly once per
// trading day by the scheduler.
func (g *Guard) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dailyPnL = 0
	g.dailyHWM = 0
	g.trailingStop = nil
	g.scale = 1.0
	g.blocked = false
	g.blockReason = ""
	g.consecLosses = 0
	g.log.Infow("profit guard daily state reset")
}

// State returns a status snapshot.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	var stop *float64
	if g.trailingStop != nil {
		v := *g.trailingStop
		stop = &v
	}
	return State{
		DailyPnLPct:       g.dailyPnL,
		DailyHWMPct:       g.dailyHWM,
		TrailingStopPct:   stop,
		ScaleFactor:       g.scale,
		Blocked:           g.blocked,
		Reason:            g.blockReason,
		ConsecutiveLosses: g.consecLosses,
		Timestamp:         g.now(),
	}
}

func (g *Guard) blockLocked(reason string) {
	if g.blocked {
		return
	}
	g.blocked = true
	g.blockReason = reason
	g.log.Warnw("trading blocked by profit guard", "reason", reason,
		"daily_pnl_pct", g.dailyPnL, "hwm_pct", g.dailyHWM)
}
