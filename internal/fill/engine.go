package fill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/internal/events"
	"papertrade-core/internal/market"
	"papertrade-core/internal/pricing"
)

// Config tunes the matching loop.
type Config struct {
	// MatchInterval is the period of the matching pass.
	MatchInterval time.Duration
	// DefaultCancelAfter is applied to orders submitted without a timeout.
	// Zero leaves them open indefinitely.
	DefaultCancelAfter time.Duration
}

// Metrics is the engine's cumulative execution statistics export. Field
// names are consumed by reports and must stay stable.
type Metrics struct {
	MakerFillRate     float64         `json:"maker_fill_rate"`
	AvgTimeToFillMs   float64         `json:"avg_time_to_fill_ms"`
	PartialFillCount  int             `json:"partial_fill_count"`
	CancelledOrders   int             `json:"cancelled_orders"`
	CancelledQuantity decimal.Decimal `json:"cancelled_quantity"`
}

// Engine owns the order lifecycle: it accepts orders, runs the periodic
// matching pass against simulated liquidity, and emits fills. All state is
// guarded by a single mutex; no invariant is left half-updated across a
// blocking wait.
type Engine struct {
	cfg    Config
	quotes market.QuoteFunc
	ticks  *pricing.Table
	sim    *Simulator
	bus    *events.Bus
	log    *zap.SugaredLogger

	// OnFill is invoked synchronously for every fill, outside the engine
	// lock. Set before Start.
	OnFill func(Fill)

	mu         sync.Mutex
	orders     map[string]*Order
	open       []string
	history    []Fill
	makerFills int
	takerFills int
	partials   int
	cancelled  int
	cancelQty  decimal.Decimal
	timeToFill *latencyWindow

	now    func() time.Time
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEngine creates a fill engine. bus and log may be nil.
func NewEngine(cfg Config, quotes market.QuoteFunc, ticks *pricing.Table, sim *Simulator, bus *events.Bus, log *zap.SugaredLogger) *Engine {
	if cfg.MatchInterval <= 0 {
		cfg.MatchInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:        cfg,
		quotes:     quotes,
		ticks:      ticks,
		sim:        sim,
		bus:        bus,
		log:        log,
		orders:     make(map[string]*Order),
		cancelQty:  decimal.Zero,
		timeToFill: newLatencyWindow(1000),
		now:        time.Now,
	}
}

// SubmitOrder validates and registers an order, returning its id. Malformed
// orders are rejected synchronously and never enter the matching loop.
func (e *Engine) SubmitOrder(req Order) (string, error) {
	if err := validate(req); err != nil {
		if e.bus != nil {
			e.bus.Publish(events.EventOrderRejected, req)
		}
		return "", err
	}

	o := req
	o.ID = uuid.NewString()
	o.CreatedAt = e.now()
	o.FilledQty = decimal.Zero
	o.Status = StatusPending
	o.Fills = nil
	if o.CancelAfter == 0 {
		o.CancelAfter = e.cfg.DefaultCancelAfter
	}

	e.mu.Lock()
	e.orders[o.ID] = &o
	e.open = append(e.open, o.ID)
	e.mu.Unlock()

	e.log.Infow("order submitted",
		"order_id", o.ID, "symbol", o.Symbol, "side", o.Side,
		"kind", o.Kind, "qty", o.Quantity, "price", o.Price,
		"maker_only", o.MakerOnly)
	e.publish(events.EventOrderSubmitted, o)
	return o.ID, nil
}

// Start runs the matching loop until the context is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(e.cfg.MatchInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.matchOnce(e.now())
			}
		}
	}()
	e.log.Infow("fill engine started", "interval", e.cfg.MatchInterval)
}

// Stop cancels the matching loop and waits for the in-flight pass to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// matchOnce runs one matching pass over all live orders. Per-order failures
// are logged and the order is left untouched for the next tick; nothing
// escapes the pass.
func (e *Engine) matchOnce(now time.Time) {
	e.mu.Lock()
	ids := make([]string, len(e.open))
	copy(ids, e.open)
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.processOrder(id, now); err != nil {
			e.log.Warnw("matching pass error, order retried next tick", "order_id", id, "error", err)
		}
	}

	// Compact the live list.
	e.mu.Lock()
	live := e.open[:0]
	for _, id := range e.open {
		if o := e.orders[id]; o != nil && !o.Terminal() {
			live = append(live, id)
		}
	}
	e.open = live
	e.mu.Unlock()
}

func (e *Engine) processOrder(id string, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order processing panic: %v", r)
		}
	}()

	e.mu.Lock()
	o := e.orders[id]
	if o == nil || o.Terminal() {
		e.mu.Unlock()
		return nil
	}

	if o.CancelAfter > 0 && now.Sub(o.CreatedAt) > o.CancelAfter {
		remaining := o.Remaining()
		o.Status = StatusCancelled
		e.cancelled++
		e.cancelQty = e.cancelQty.Add(remaining)
		snapshot := cloneOrder(o)
		e.mu.Unlock()

		e.log.Infow("order cancelled on timeout",
			"order_id", id, "remaining", remaining, "age", now.Sub(snapshot.CreatedAt))
		e.publish(events.EventOrderCancelled, snapshot)
		return nil
	}
	symbol, side, kind, price, makerOnly := o.Symbol, o.Side, o.Kind, o.Price, o.MakerOnly
	probe := *o
	e.mu.Unlock()

	quote, err := e.quotes(symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}

	crossed := kind == KindMarket || crossesBook(side, price, quote)
	if makerOnly && crossed {
		// Maker-safety: a maker-only order must never execute through the
		// opposite best. Skip the attempt, keep the order resting.
		return nil
	}

	available := e.sim.Available(&probe, quote, e.ticks.TickSize(symbol))
	if !available.IsPositive() {
		return nil // no liquidity this tick, not an error
	}

	latency := e.sim.Latency()
	if latency > 0 {
		time.Sleep(latency)
	}

	execPrice := price
	if kind == KindMarket {
		if side == SideBuy {
			execPrice = quote.BestAsk
		} else {
			execPrice = quote.BestBid
		}
	}
	fillType := FillMaker
	if crossed {
		fillType = FillTaker
	}

	e.mu.Lock()
	o = e.orders[id]
	if o == nil || o.Terminal() {
		e.mu.Unlock()
		return nil
	}
	qty := decimal.Min(o.Remaining(), available)
	if !qty.IsPositive() {
		e.mu.Unlock()
		return nil
	}

	f := Fill{
		OrderID:   id,
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     execPrice,
		Type:      fillType,
		Latency:   latency,
		Timestamp: e.now(),
	}
	o.FilledQty = o.FilledQty.Add(qty)
	o.Fills = append(o.Fills, f)
	if o.FilledQty.GreaterThanOrEqual(o.Quantity) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
		e.partials++
	}
	if fillType == FillMaker {
		e.makerFills++
	} else {
		e.takerFills++
	}
	e.history = append(e.history, f)
	e.timeToFill.record(float64(f.Timestamp.Sub(o.CreatedAt)) / float64(time.Millisecond))
	topic := events.EventOrderFilled
	if o.Status == StatusPartial {
		topic = events.EventOrderPartiallyFilled
	}
	e.mu.Unlock()

	e.log.Infow("fill",
		"order_id", id, "symbol", symbol, "side", side, "qty", qty,
		"price", execPrice, "type", fillType, "latency", latency)
	if e.OnFill != nil {
		e.OnFill(f)
	}
	e.publish(topic, f)
	return nil
}

// crossesBook reports whether a limit price takes liquidity from the
// opposite side of the book.
func crossesBook(side string, price decimal.Decimal, q market.Quote) bool {
	if side == SideBuy {
		return price.GreaterThan(q.BestBid)
	}
	return price.LessThan(q.BestAsk)
}

// Order returns a copy of an order by id.
func (e *Engine) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return cloneOrder(o), true
}

// FillHistory returns a copy of the full fill log.
func (e *Engine) FillHistory() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Fill, len(e.history))
	copy(out, e.history)
	return out
}

// Metrics returns cumulative execution statistics.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.makerFills + e.takerFills
	rate := 0.0
	if total > 0 {
		rate = float64(e.makerFills) / float64(total)
	}
	return Metrics{
		MakerFillRate:     rate,
		AvgTimeToFillMs:   e.timeToFill.avg(),
		PartialFillCount:  e.partials,
		CancelledOrders:   e.cancelled,
		CancelledQuantity: e.cancelQty,
	}
}

func (e *Engine) publish(topic events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}

func cloneOrder(o *Order) Order {
	cp := *o
	cp.Fills = make([]Fill, len(o.Fills))
	copy(cp.Fills, o.Fills)
	return cp
}
