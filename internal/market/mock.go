package market

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/internal/events"
)

// MockFeed generates a synthetic random-walk quote stream for local and
// paper-trading runs. It both publishes ticks on the bus and serves
// on-demand snapshots via Quote.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	SpreadBps  float64 // full bid/ask spread width
	StepBps    float64 // max mid move per tick
	Interval   time.Duration
	Log        *zap.SugaredLogger

	rng    *rand.Rand
	mu     sync.RWMutex
	quotes map[string]Quote
	wg     sync.WaitGroup
	cancel context.CancelFunc
	now    func() time.Time
}

// NewMockFeed creates a feed with a seedable RNG so simulations are
// reproducible. seed == 0 falls back to wall-clock seeding.
func NewMockFeed(bus *events.Bus, symbols []string, startPrice, spreadBps, stepBps float64, interval time.Duration, seed int64, log *zap.SugaredLogger) *MockFeed {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	f := &MockFeed{
		Bus:        bus,
		Symbols:    symbols,
		StartPrice: startPrice,
		SpreadBps:  spreadBps,
		StepBps:    stepBps,
		Interval:   interval,
		Log:        log,
		rng:        rand.New(rand.NewSource(seed)),
		quotes:     make(map[string]Quote),
		now:        time.Now,
	}
	f.applyDefaults()
	for _, sym := range f.Symbols {
		f.quotes[sym] = f.synthesize(sym, f.StartPrice)
	}
	return f
}

func (f *MockFeed) applyDefaults() {
	if len(f.Symbols) == 0 {
		f.Symbols = []string{"BTCUSDT"}
	}
	if f.StartPrice <= 0 {
		f.StartPrice = 100.0
	}
	if f.SpreadBps <= 0 {
		f.SpreadBps = 5
	}
	if f.StepBps <= 0 {
		f.StepBps = 8
	}
	if f.Interval <= 0 {
		f.Interval = time.Second
	}
}

// Start begins ticking until the context is cancelled or Stop is called.
func (f *MockFeed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		t := time.NewTicker(f.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				f.Tick()
			}
		}
	}()
	f.Log.Infow("mock feed started", "symbols", f.Symbols, "interval", f.Interval)
}

// Stop halts the tick loop and waits for it to drain.
func (f *MockFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// Tick advances every symbol one random-walk step and publishes the quotes.
// Exposed so tests and the matching loop can drive the market directly.
func (f *MockFeed) Tick() {
	f.mu.Lock()
	updated := make([]Quote, 0, len(f.Symbols))
	for _, sym := range f.Symbols {
		prev := f.quotes[sym]
		mid, _ := prev.Mid().Float64()
		step := mid * f.StepBps / 10000.0
		mid += (f.rng.Float64()*2 - 1) * step
		if mid <= 0 {
			mid = f.StartPrice
		}
		q := f.synthesize(sym, mid)
		f.quotes[sym] = q
		updated = append(updated, q)
	}
	f.mu.Unlock()

	if f.Bus != nil {
		for _, q := range updated {
			f.Bus.Publish(events.EventPriceTick, q)
		}
	}
}

func (f *MockFeed) synthesize(symbol string, mid float64) Quote {
	half := mid * f.SpreadBps / 10000.0 / 2.0
	return Quote{
		Symbol:    symbol,
		BestBid:   decimal.NewFromFloat(mid - half).Round(8),
		BestAsk:   decimal.NewFromFloat(mid + half).Round(8),
		LastPrice: decimal.NewFromFloat(mid).Round(8),
		Timestamp: f.now(),
	}
}

// Quote returns the latest snapshot for a symbol.
func (f *MockFeed) Quote(symbol string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for symbol %s", symbol)
	}
	return q, nil
}

// ClockSkew reports the drift between the local clock and the feed's
// reference timestamps. The watchdog uses this as its skew probe.
func (f *MockFeed) ClockSkew() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var latest time.Time
	for _, q := range f.quotes {
		if q.Timestamp.After(latest) {
			latest = q.Timestamp
		}
	}
	if latest.IsZero() {
		return 0
	}
	skew := f.now().Sub(latest) - f.Interval
	if skew < 0 {
		return 0
	}
	return skew
}
