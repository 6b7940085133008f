package fill

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade-core/internal/market"
)

// SimConfig tunes the liquidity and latency model.
type SimConfig struct {
	// BaseDepth is the opposing book volume assumed at each price level.
	BaseDepth decimal.Decimal
	// HiddenMin/HiddenMax bound the random hidden-liquidity factor that
	// scales whatever the visible book would offer.
	HiddenMin float64
	HiddenMax float64
	// LatencyMin/LatencyMax bound the simulated execution latency.
	LatencyMin time.Duration
	LatencyMax time.Duration
	// MarketLevels is how many levels a market order sweeps.
	MarketLevels int
}

// DefaultSimConfig returns the liquidity model used in paper sessions.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		BaseDepth:    decimal.NewFromInt(2),
		HiddenMin:    0.3,
		HiddenMax:    1.0,
		LatencyMin:   5 * time.Millisecond,
		LatencyMax:   120 * time.Millisecond,
		MarketLevels: 3,
	}
}

// maxSweepLevels bounds how deep a crossing limit order can reach.
const maxSweepLevels = 10

// maxRestTicks is the distance from the touch beyond which a resting order
// sees no marketable flow at all.
const maxRestTicks = 100

// Simulator models available liquidity and execution latency with a
// seedable RNG so paper sessions are reproducible.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	cfg SimConfig
}

// NewSimulator creates a simulator. seed == 0 falls back to wall-clock
// seeding, anything else makes runs deterministic.
func NewSimulator(cfg SimConfig, seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.BaseDepth.LessThanOrEqual(decimal.Zero) {
		cfg.BaseDepth = decimal.NewFromInt(2)
	}
	if cfg.HiddenMax < cfg.HiddenMin {
		cfg.HiddenMin, cfg.HiddenMax = cfg.HiddenMax, cfg.HiddenMin
	}
	if cfg.MarketLevels <= 0 {
		cfg.MarketLevels = 3
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed)), cfg: cfg}
}

// Available estimates how much opposing volume an order could execute
// against right now: the visible volume priced at or better than the limit,
// scaled by a bounded random hidden-liquidity factor.
func (s *Simulator) Available(o *Order, q market.Quote, tick decimal.Decimal) decimal.Decimal {
	visible := s.visibleVolume(o, q, tick)
	if !visible.IsPositive() {
		return decimal.Zero
	}
	return visible.Mul(decimal.NewFromFloat(s.hiddenFactor()))
}

func (s *Simulator) visibleVolume(o *Order, q market.Quote, tick decimal.Decimal) decimal.Decimal {
	if o.Kind == KindMarket {
		return s.cfg.BaseDepth.Mul(decimal.NewFromInt(int64(s.cfg.MarketLevels)))
	}

	if o.Side == SideBuy {
		if o.Price.GreaterThanOrEqual(q.BestAsk) {
			// Crossing: sweep every ask level at or below the limit.
			return s.cfg.BaseDepth.Mul(decimal.NewFromInt(sweepLevels(o.Price.Sub(q.BestAsk), tick)))
		}
		// Resting: marketable flow reaches our level less often the
		// further we sit from the touch.
		return discountByDistance(s.cfg.BaseDepth, q.BestBid.Sub(o.Price), tick)
	}

	if o.Price.LessThanOrEqual(q.BestBid) {
		return s.cfg.BaseDepth.Mul(decimal.NewFromInt(sweepLevels(q.BestBid.Sub(o.Price), tick)))
	}
	return discountByDistance(s.cfg.BaseDepth, o.Price.Sub(q.BestAsk), tick)
}

// Latency draws a simulated execution latency.
func (s *Simulator) Latency() time.Duration {
	if s.cfg.LatencyMax <= 0 {
		return 0
	}
	span := s.cfg.LatencyMax - s.cfg.LatencyMin
	if span <= 0 {
		return s.cfg.LatencyMin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.LatencyMin + time.Duration(s.rng.Int63n(int64(span)+1))
}

func (s *Simulator) hiddenFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.HiddenMin + s.rng.Float64()*(s.cfg.HiddenMax-s.cfg.HiddenMin)
}

func sweepLevels(depth, tick decimal.Decimal) int64 {
	levels := depth.Div(tick).Floor().IntPart() + 1
	if levels > maxSweepLevels {
		return maxSweepLevels
	}
	if levels < 1 {
		return 1
	}
	return levels
}

func discountByDistance(base, distance, tick decimal.Decimal) decimal.Decimal {
	if distance.IsNegative() {
		distance = decimal.Zero
	}
	ticksAway := distance.Div(tick).Floor().IntPart()
	if ticksAway >= maxRestTicks {
		return decimal.Zero
	}
	return base.Div(decimal.NewFromInt(1 + ticksAway))
}
