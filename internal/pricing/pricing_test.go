package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTickSizeFallback(t *testing.T) {
	table := NewTable(d("0.01"))
	table.Set("BTCUSDT", d("0.1"))
	table.Set("BAD", d("-1")) // ignored

	assert.True(t, table.TickSize("BTCUSDT").Equal(d("0.1")))
	assert.True(t, table.TickSize("ETHUSDT").Equal(d("0.01")))
	assert.True(t, table.TickSize("BAD").Equal(d("0.01")))
}

func TestRoundToTick(t *testing.T) {
	table := NewTable(d("0.05"))

	tests := []struct {
		name    string
		price   string
		roundUp bool
		want    string
	}{
		{"down off-grid", "100.07", false, "100.05"},
		{"up off-grid", "100.07", true, "100.10"},
		{"on-grid unchanged down", "100.05", false, "100.05"},
		{"on-grid unchanged up", "100.05", true, "100.05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.RoundToTick(d(tt.price), "X", tt.roundUp)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestJoinBestImprovesWithoutCrossing(t *testing.T) {
	table := NewTable(d("0.01"))

	buy := table.JoinBest("BUY", d("100.00"), d("100.10"), "X")
	assert.True(t, buy.Equal(d("100.01")))

	sell := table.JoinBest("SELL", d("100.00"), d("100.10"), "X")
	assert.True(t, sell.Equal(d("100.09")))

	// One-tick spread: no room to improve, rest at the same-side best.
	buyTight := table.JoinBest("BUY", d("100.00"), d("100.01"), "X")
	assert.True(t, buyTight.Equal(d("100.00")))

	sellTight := table.JoinBest("SELL", d("100.00"), d("100.01"), "X")
	assert.True(t, sellTight.Equal(d("100.01")))
}

func TestStepInLimit(t *testing.T) {
	table := NewTable(d("0.01"))

	tests := []struct {
		name         string
		side         string
		bid, ask     string
		k            int
		minEdgeBps   string
		wantPrice    string
		wantStrategy Strategy
	}{
		{"buy steps into wide spread", "BUY", "100.00", "100.20", 2, "1", "100.02", StrategyStepIn},
		{"sell steps into wide spread", "SELL", "100.00", "100.20", 2, "1", "100.18", StrategyStepIn},
		{"narrow spread falls back", "BUY", "100.00", "100.03", 2, "1", "100.01", StrategyJoinBest},
		{"insufficient edge falls back", "BUY", "100.00", "100.20", 3, "20", "100.01", StrategyJoinBest},
		{"deep step clamps inside opposite best", "BUY", "100.00", "100.05", 10, "0", "100.04", StrategyStepIn},
		{"sell deep step clamps inside opposite best", "SELL", "100.00", "100.05", 10, "0", "100.01", StrategyStepIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, strategy := table.StepInLimit(tt.side, d(tt.bid), d(tt.ask), "X", tt.k, d(tt.minEdgeBps))
			assert.Equal(t, tt.wantStrategy, strategy)
			assert.True(t, price.Equal(d(tt.wantPrice)), "got %s want %s", price, tt.wantPrice)

			// Never crosses the opposite best regardless of inputs.
			if tt.side == "BUY" {
				assert.True(t, price.LessThan(d(tt.ask)))
			} else {
				assert.True(t, price.GreaterThan(d(tt.bid)))
			}
		})
	}
}

func TestTicksForVolatility(t *testing.T) {
	assert.Equal(t, 1, TicksForVolatility(0.4))
	assert.Equal(t, 1, TicksForVolatility(0.99))
	assert.Equal(t, 2, TicksForVolatility(1.0))
	assert.Equal(t, 2, TicksForVolatility(1.99))
	assert.Equal(t, 3, TicksForVolatility(2.0))
	assert.Equal(t, 3, TicksForVolatility(7.5))
}
