package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Strategy names which placement rule produced a price.
type Strategy string

const (
	StrategyJoinBest Strategy = "join_best"
	StrategyStepIn   Strategy = "step_in"
)

var (
	two         = decimal.NewFromInt(2)
	three       = decimal.NewFromInt(3)
	tenThousand = decimal.NewFromInt(10000)
)

// Table resolves tick sizes per symbol with a default fallback. It is
// read-only after construction; all placement methods are pure.
type Table struct {
	ticks       map[string]decimal.Decimal
	defaultTick decimal.Decimal
}

// NewTable creates a tick table with the given fallback tick size.
func NewTable(defaultTick decimal.Decimal) *Table {
	if defaultTick.LessThanOrEqual(decimal.Zero) {
		defaultTick = decimal.RequireFromString("0.01")
	}
	return &Table{
		ticks:       make(map[string]decimal.Decimal),
		defaultTick: defaultTick,
	}
}

// Set registers a symbol's tick size. Non-positive ticks are ignored.
func (t *Table) Set(symbol string, tick decimal.Decimal) {
	if tick.GreaterThan(decimal.Zero) {
		t.ticks[symbol] = tick
	}
}

// TickSize returns the configured tick for a symbol or the default.
func (t *Table) TickSize(symbol string) decimal.Decimal {
	if tick, ok := t.ticks[symbol]; ok {
		return tick
	}
	return t.defaultTick
}

// RoundToTick snaps a price onto the symbol's tick grid, rounding up or down.
func (t *Table) RoundToTick(price decimal.Decimal, symbol string, roundUp bool) decimal.Decimal {
	tick := t.TickSize(symbol)
	steps := price.Div(tick)
	if roundUp {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	return steps.Mul(tick)
}

// JoinBest prices one tick better than the same-side best without crossing
// the spread. When the spread is too tight to improve, it rests at the best.
func (t *Table) JoinBest(side string, bestBid, bestAsk decimal.Decimal, symbol string) decimal.Decimal {
	tick := t.TickSize(symbol)
	if isBuy(side) {
		price := bestBid.Add(tick)
		if price.GreaterThanOrEqual(bestAsk) {
			return bestBid
		}
		return price
	}
	price := bestAsk.Sub(tick)
	if price.LessThanOrEqual(bestBid) {
		return bestAsk
	}
	return price
}

// StepInLimit advances k ticks into the spread while preserving at least
// minEdgeBps of the midpoint as edge to the opposite best. It falls back to
// JoinBest when the spread is 3 ticks or less or the remaining edge would be
// insufficient, and clamps so the result never crosses the opposite best.
func (t *Table) StepInLimit(side string, bestBid, bestAsk decimal.Decimal, symbol string, k int, minEdgeBps decimal.Decimal) (decimal.Decimal, Strategy) {
	tick := t.TickSize(symbol)
	if k < 1 {
		k = 1
	}

	spread := bestAsk.Sub(bestBid)
	if spread.LessThanOrEqual(tick.Mul(three)) {
		return t.JoinBest(side, bestBid, bestAsk, symbol), StrategyJoinBest
	}

	mid := bestBid.Add(bestAsk).Div(two)
	minEdge := mid.Mul(minEdgeBps).Div(tenThousand)
	step := tick.Mul(decimal.NewFromInt(int64(k)))

	if isBuy(side) {
		price := bestBid.Add(step)
		if ceiling := bestAsk.Sub(tick); price.GreaterThan(ceiling) {
			price = ceiling
		}
		if bestAsk.Sub(price).LessThan(minEdge) {
			return t.JoinBest(side, bestBid, bestAsk, symbol), StrategyJoinBest
		}
		return price, StrategyStepIn
	}

	price := bestAsk.Sub(step)
	if floor := bestBid.Add(tick); price.LessThan(floor) {
		price = floor
	}
	if price.Sub(bestBid).LessThan(minEdge) {
		return t.JoinBest(side, bestBid, bestAsk, symbol), StrategyJoinBest
	}
	return price, StrategyStepIn
}

// TicksForVolatility buckets ATR percent into a step-in depth: calm markets step a
// single tick, volatile markets step deeper.
func TicksForVolatility(atrPct float64) int {
	switch {
	case atrPct < 1.0:
		return 1
	case atrPct < 2.0:
		return 2
	default:
		return 3
	}
}

func isBuy(side string) bool {
	return strings.EqualFold(side, "BUY")
}
