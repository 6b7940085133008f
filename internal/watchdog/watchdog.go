package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade-core/internal/events"
	"papertrade-core/internal/notify"
)

// Kill-switch states.
const (
	StatusNormal = "NORMAL"
	StatusPaused = "PAUSED"
)

// Config holds the watchdog trigger thresholds.
type Config struct {
	CheckInterval    time.Duration // periodic evaluation tick
	MaxClockSkew     time.Duration // reference-clock drift limit
	ErrorWindow      time.Duration // rolling window for error bursts
	MaxErrors        int           // errors within the window before pausing
	DrawdownLimitPct float64       // daily P&L points below high-water-mark
	MaxRateLimitHits int           // rate-limit hits before pausing
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CheckInterval:    time.Second,
		MaxClockSkew:     3000 * time.Millisecond,
		ErrorWindow:      60 * time.Second,
		MaxErrors:        10,
		DrawdownLimitPct: 1.0,
		MaxRateLimitHits: 5,
	}
}

// State is the watchdog's status export for dashboards and reports.
type State struct {
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	ErrorCount    int       `json:"error_count"`
	RateLimitHits int       `json:"rate_limit_hits"`
	DailyPnLPct   float64   `json:"daily_pnl_pct"`
	DailyHWMPct   float64   `json:"daily_hwm_pct"`
	ClockSkewMs   int64     `json:"clock_skew_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Watchdog is the system kill switch. Any one of its triggers moves
// NORMAL -> PAUSED; only an explicit operator Resume moves it back. Repeat
// trigger events while paused are no-ops.
type Watchdog struct {
	cfg      Config
	skewFn   func() time.Duration // reference-clock probe, may be nil
	notifier notify.Notifier
	bus      *events.Bus
	log      *zap.SugaredLogger

	mu          sync.Mutex
	status      string
	pauseReason string
	errorCount  int
	windowStart time.Time
	rateHits    int
	dailyPnL    float64
	dailyHWM    float64
	clockSkew   time.Duration

	now    func() time.Time
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a watchdog in NORMAL state. skewFn, notifier, bus and log may
// be nil.
func New(cfg Config, skewFn func() time.Duration, notifier notify.Notifier, bus *events.Bus, log *zap.SugaredLogger) *Watchdog {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := &Watchdog{
		cfg:      cfg,
		skewFn:   skewFn,
		notifier: notifier,
		bus:      bus,
		log:      log,
		status:   StatusNormal,
		now:      time.Now,
	}
	w.windowStart = w.now()
	return w
}

// Start runs the periodic check loop until the context is cancelled or Stop
// is called.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(w.cfg.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.checkOnce()
			}
		}
	}()
	w.log.Infow("watchdog started", "interval", w.cfg.CheckInterval)
}

// Stop cancels the check loop and waits for it to drain.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// ReportError records one error and evaluates the burst trigger. O(1).
func (w *Watchdog) ReportError() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.windowStart) > w.cfg.ErrorWindow {
		w.errorCount = 0
		w.windowStart = now
	}
	w.errorCount++
	if w.errorCount >= w.cfg.MaxErrors {
		w.pauseLocked(fmt.Sprintf("error burst: %d errors within %s", w.errorCount, w.cfg.ErrorWindow))
	}
}

// ReportRateLimit records one rate-limit hit and evaluates its trigger. O(1).
func (w *Watchdog) ReportRateLimit() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rateHits++
	if w.rateHits >= w.cfg.MaxRateLimitHits {
		w.pauseLocked(fmt.Sprintf("rate limit hits: %d", w.rateHits))
	}
}

// UpdateDailyPnL feeds the ledger-derived daily P&L percentage and evaluates
// the drawdown trigger against the daily high-water-mark.
func (w *Watchdog) UpdateDailyPnL(pct float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.dailyPnL = pct
	if pct > w.dailyHWM {
		w.dailyHWM = pct
	}
	if w.dailyPnL-w.dailyHWM <= -w.cfg.DrawdownLimitPct {
		w.pauseLocked(fmt.Sprintf("daily drawdown: pnl %.2f%% is %.2f%% below high-water-mark %.2f%%",
			w.dailyPnL, w.dailyHWM-w.dailyPnL, w.dailyHWM))
	}
}

// checkOnce runs the periodic evaluation: clock skew plus a re-check of the
// counters in case thresholds were lowered at runtime.
func (w *Watchdog) checkOnce() {
	var skew time.Duration
	if w.skewFn != nil {
		skew = w.skewFn()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.clockSkew = skew
	if w.cfg.MaxClockSkew > 0 && skew > w.cfg.MaxClockSkew {
		w.pauseLocked(fmt.Sprintf("clock skew %s exceeds limit %s", skew, w.cfg.MaxClockSkew))
		return
	}
	if now := w.now(); now.Sub(w.windowStart) > w.cfg.ErrorWindow {
		w.errorCount = 0
		w.windowStart = now
	}
}

// pauseLocked transitions to PAUSED exactly once. Callers hold the lock.
func (w *Watchdog) pauseLocked(reason string) {
	if w.status == StatusPaused {
		return // idempotent while paused
	}
	w.status = StatusPaused
	w.pauseReason = reason
	snapshot := w.stateLocked()

	w.log.Warnw("trading paused", "reason", reason,
		"error_count", snapshot.ErrorCount, "rate_limit_hits", snapshot.RateLimitHits,
		"daily_pnl_pct", snapshot.DailyPnLPct)

	// Notification and bus publish are best-effort and must not block or
	// undo the transition.
	if w.notifier != nil {
		if ok := w.notifier.Notify("trading paused: "+reason, notify.PriorityCritical); !ok {
			w.log.Warnw("pause notification failed", "reason", reason)
		}
	}
	if w.bus != nil {
		w.bus.Publish(events.EventSystemPaused, snapshot)
	}
}

// Resume is the operator path back to NORMAL. It resets the error and
// rate-limit counters.
func (w *Watchdog) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status == StatusNormal {
		return
	}
	w.status = StatusNormal
	w.pauseReason = ""
	w.errorCount = 0
	w.rateHits = 0
	w.windowStart = w.now()

	w.log.Infow("trading resumed by operator")
	if w.bus != nil {
		w.bus.Publish(events.EventSystemResumed, w.stateLocked())
	}
}

// ResetDaily clears the daily P&L tracking at the trading-day boundary. The
// pause state is untouched: only Resume clears that.
func (w *Watchdog) ResetDaily() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dailyPnL = 0
	w.dailyHWM = 0
}

// Paused reports whether the kill switch is engaged, with the reason.
func (w *Watchdog) Paused() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status == StatusPaused, w.pauseReason
}

// State returns a status snapshot.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Watchdog) stateLocked() State {
	return State{
		Status:        w.status,
		Reason:        w.pauseReason,
		ErrorCount:    w.errorCount,
		RateLimitHits: w.rateHits,
		DailyPnLPct:   w.dailyPnL,
		DailyHWMPct:   w.dailyHWM,
		ClockSkewMs:   w.clockSkew.Milliseconds(),
		Timestamp:     w.now(),
	}
}
