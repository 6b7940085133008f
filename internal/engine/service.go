package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade-core/internal/events"
	"papertrade-core/internal/fill"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/market"
	"papertrade-core/internal/profitguard"
	"papertrade-core/internal/watchdog"
)

// Submission gate errors, checked in order before an order reaches the fill
// engine.
var (
	ErrRateLimited = errors.New("submission rate limit exceeded")
	ErrPaused      = errors.New("trading paused")
	ErrBlocked     = errors.New("position opening blocked")
)

// Config tunes the orchestrator.
type Config struct {
	// SubmitRatePerSec and SubmitBurst bound order submissions.
	SubmitRatePerSec float64
	SubmitBurst      int
	// RiskRefreshInterval is the mark-to-market cadence feeding the
	// watchdog and profit guard even when no fills arrive.
	RiskRefreshInterval time.Duration
}

// DefaultConfig returns orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		SubmitRatePerSec:    10,
		SubmitBurst:         20,
		RiskRefreshInterval: time.Second,
	}
}

// Service wires the execution path together: every submission runs the rate
// limiter, watchdog and profit guard gates before it reaches the fill
// engine, and every fill flows back through the ledger into the daily P&L
// fed to both risk components.
type Service struct {
	cfg     Config
	fills   *fill.Engine
	book    *ledger.Ledger
	dog     *watchdog.Watchdog
	guard   *profitguard.Guard
	quotes  market.QuoteFunc
	symbols []string
	limiter *rate.Limiter
	bus     *events.Bus
	log     *zap.SugaredLogger

	mu             sync.Mutex
	startingEquity decimal.Decimal
	guardBlocked   bool

	now    func() time.Time
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates the orchestrator and hooks the fill engine's fill callback
// into the accounting and risk path.
func New(cfg Config, fills *fill.Engine, book *ledger.Ledger, dog *watchdog.Watchdog, guard *profitguard.Guard, quotes market.QuoteFunc, symbols []string, bus *events.Bus, log *zap.SugaredLogger) *Service {
	if cfg.SubmitRatePerSec <= 0 {
		cfg.SubmitRatePerSec = 10
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 20
	}
	if cfg.RiskRefreshInterval <= 0 {
		cfg.RiskRefreshInterval = time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{
		cfg:            cfg,
		fills:          fills,
		book:           book,
		dog:            dog,
		guard:          guard,
		quotes:         quotes,
		symbols:        symbols,
		limiter:        rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), cfg.SubmitBurst),
		bus:            bus,
		log:            log,
		startingEquity: book.Cash(),
		now:            time.Now,
	}
	fills.OnFill = s.handleFill
	return s
}

// SubmitOrder runs the gate chain and forwards to the fill engine. Gates are
// consulted in a fixed order: rate limiter, watchdog, profit guard.
func (s *Service) SubmitOrder(req fill.Order) (string, error) {
	if !s.limiter.Allow() {
		s.dog.ReportRateLimit()
		s.log.Warnw("order rejected by rate limiter", "symbol", req.Symbol, "side", req.Side)
		return "", ErrRateLimited
	}

	if paused, reason := s.dog.Paused(); paused {
		return "", fmt.Errorf("%w: %s", ErrPaused, reason)
	}

	if req.Side == fill.SideBuy {
		sizePct, err := s.positionSizePct(req)
		if err != nil {
			s.dog.ReportError()
			return "", fmt.Errorf("size order: %w", err)
		}
		if ok, reason := s.guard.CanOpenPosition(sizePct); !ok {
			return "", fmt.Errorf("%w: %s", ErrBlocked, reason)
		}
	}

	return s.fills.SubmitOrder(req)
}

// positionSizePct expresses an order's notional as a percentage of the
// day's starting equity. Market orders are sized at the current mid.
func (s *Service) positionSizePct(req fill.Order) (float64, error) {
	price := req.Price
	if req.Kind == fill.KindMarket {
		q, err := s.quotes(req.Symbol)
		if err != nil {
			return 0, fmt.Errorf("quote %s: %w", req.Symbol, err)
		}
		price = q.Mid()
	}

	s.mu.Lock()
	base := s.startingEquity
	s.mu.Unlock()
	if !base.IsPositive() {
		return 0, errors.New("starting equity is not positive")
	}

	notional := req.Quantity.Mul(price)
	pct, _ := notional.Div(base).Mul(decimal.NewFromInt(100)).Float64()
	return pct, nil
}

// handleFill applies the fill to the ledger, reports trade outcomes on
// sells, and refreshes the daily P&L fed to the risk components.
func (s *Service) handleFill(f fill.Fill) {
	delta := s.book.ApplyFill(f)
	if f.Side == fill.SideSell {
		s.guard.ReportTradeResult(delta.RealizedPnL.IsPositive())
	}
	if s.bus != nil {
		s.bus.Publish(events.EventLedgerUpdated, s.book.Snapshot())
	}
	s.refreshRisk()
}

// refreshRisk marks the book to market and pushes the resulting daily P&L
// percentage into the watchdog and the profit guard.
func (s *Service) refreshRisk() {
	marks := make(map[string]decimal.Decimal, len(s.symbols))
	for _, symbol := range s.symbols {
		q, err := s.quotes(symbol)
		if err != nil {
			s.dog.ReportError()
			s.log.Warnw("mark-to-market quote failed", "symbol", symbol, "error", err)
			continue
		}
		marks[symbol] = q.Mid()
	}

	s.mu.Lock()
	base := s.startingEquity
	s.mu.Unlock()
	if !base.IsPositive() {
		return
	}

	value := s.book.MarketValue(marks)
	pct, _ := value.Sub(base).Div(base).Mul(decimal.NewFromInt(100)).Float64()
	s.dog.UpdateDailyPnL(pct)
	s.guard.UpdatePnL(pct)

	if blocked, reason := s.guard.Blocked(); blocked {
		s.mu.Lock()
		first := !s.guardBlocked
		s.guardBlocked = true
		s.mu.Unlock()
		if first && s.bus != nil {
			s.bus.Publish(events.EventRiskAlert, s.guard.State())
		}
		if first {
			s.log.Warnw("profit guard engaged", "reason", reason, "daily_pnl_pct", pct)
		}
	}
}

// ResetDaily rebases the day's starting equity to the current market value
// and clears daily risk state. A watchdog pause survives the rollover.
func (s *Service) ResetDaily() {
	marks := make(map[string]decimal.Decimal, len(s.symbols))
	for _, symbol := range s.symbols {
		if q, err := s.quotes(symbol); err == nil {
			marks[symbol] = q.Mid()
		}
	}
	value := s.book.MarketValue(marks)

	s.mu.Lock()
	s.startingEquity = value
	s.guardBlocked = false
	s.mu.Unlock()

	s.dog.ResetDaily()
	s.guard.ResetDaily()
	s.log.Infow("daily state reset", "starting_equity", value)
}

// CanTrade reports whether submissions would currently pass the watchdog
// and profit guard gates.
func (s *Service) CanTrade() (bool, string) {
	if paused, reason := s.dog.Paused(); paused {
		return false, reason
	}
	if blocked, reason := s.guard.Blocked(); blocked {
		return false, reason
	}
	return true, ""
}

// Start runs the fill engine's matching loop and the periodic risk refresh.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.fills.Start(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.cfg.RiskRefreshInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.refreshRisk()
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDailyRollover(ctx)
	}()
}

// runDailyRollover fires ResetDaily at each local-midnight trading-day
// boundary.
func (s *Service) runDailyRollover(ctx context.Context) {
	for {
		now := s.now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			s.ResetDaily()
		}
	}
}

// Stop cancels the matching loop and risk refresh and waits for both to
// drain.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.fills.Stop()
	s.wg.Wait()
}
