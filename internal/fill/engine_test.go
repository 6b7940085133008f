package fill

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-core/internal/market"
	"papertrade-core/internal/pricing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// quoteStub serves a mutable static quote.
type quoteStub struct {
	bid, ask string
}

func (q *quoteStub) get(symbol string) (market.Quote, error) {
	return market.Quote{
		Symbol:    symbol,
		BestBid:   d(q.bid),
		BestAsk:   d(q.ask),
		LastPrice: d(q.bid),
		Timestamp: time.Now(),
	}, nil
}

func newTestEngine(t *testing.T, quotes market.QuoteFunc, baseDepth string) (*Engine, *time.Time) {
	t.Helper()
	sim := NewSimulator(SimConfig{
		BaseDepth:    d(baseDepth),
		HiddenMin:    1.0,
		HiddenMax:    1.0, // deterministic: hidden factor pinned to 1
		LatencyMin:   0,
		LatencyMax:   0,
		MarketLevels: 1,
	}, 1)
	table := pricing.NewTable(d("0.01"))
	e := NewEngine(Config{MatchInterval: 500 * time.Millisecond}, quotes, table, sim, nil, nil)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := &now
	e.now = func() time.Time { return *clock }
	return e, clock
}

func TestSubmitOrderValidation(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, _ := newTestEngine(t, stub.get, "5")

	tests := []struct {
		name  string
		order Order
	}{
		{"zero quantity", Order{Symbol: "BTCUSDT", Side: SideBuy, Kind: KindMarket}},
		{"negative quantity", Order{Symbol: "BTCUSDT", Side: SideBuy, Kind: KindMarket, Quantity: d("-1")}},
		{"limit without price", Order{Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit, Quantity: d("1")}},
		{"maker-only without price", Order{Symbol: "BTCUSDT", Side: SideBuy, Kind: KindMarket, MakerOnly: true, Quantity: d("1")}},
		{"unknown side", Order{Symbol: "BTCUSDT", Side: "HOLD", Kind: KindMarket, Quantity: d("1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SubmitOrder(tt.order)
			require.Error(t, err)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "want ValidationError, got %T", err)
		})
	}
}

func TestCrossingLimitFillsAsTaker(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, clock := newTestEngine(t, stub.get, "5")

	id, err := e.SubmitOrder(Order{
		Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit,
		Quantity: d("1"), Price: d("100.10"),
	})
	require.NoError(t, err)

	e.matchOnce(*clock)

	o, ok := e.Order(id)
	require.True(t, ok)
	assert.Equal(t, StatusFilled, o.Status)
	require.Len(t, o.Fills, 1)
	assert.Equal(t, FillTaker, o.Fills[0].Type)
	assert.True(t, o.Fills[0].Price.Equal(d("100.10")), "fills execute at the order price")
	assert.True(t, o.FilledQty.Equal(o.Quantity))
}

func TestMakerOnlySafetyInvariant(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, clock := newTestEngine(t, stub.get, "5")

	// Price above best bid: crossing, so a maker-only order must never fill.
	id, err := e.SubmitOrder(Order{
		Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit, MakerOnly: true,
		Quantity: d("1"), Price: d("100.05"),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e.matchOnce(*clock)
	}
	o, _ := e.Order(id)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.FilledQty.IsZero())

	// Market moves up through the level: price is now at or below best bid,
	// the same order fills and is tagged maker.
	stub.bid, stub.ask = "100.06", "100.16"
	e.matchOnce(*clock)

	o, _ = e.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
	require.Len(t, o.Fills, 1)
	assert.Equal(t, FillMaker, o.Fills[0].Type)
	assert.True(t, o.Fills[0].Price.LessThanOrEqual(d("100.06")),
		"maker buy fill price %s must not exceed best bid", o.Fills[0].Price)
}

func TestPartialFillProgression(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, clock := newTestEngine(t, stub.get, "0.4")

	id, err := e.SubmitOrder(Order{
		Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit,
		Quantity: d("1"), Price: d("100.10"),
	})
	require.NoError(t, err)

	e.matchOnce(*clock)
	o, _ := e.Order(id)
	assert.Equal(t, StatusPartial, o.Status)
	assert.True(t, o.FilledQty.Equal(d("0.4")))

	e.matchOnce(*clock)
	o, _ = e.Order(id)
	assert.Equal(t, StatusPartial, o.Status)
	assert.True(t, o.FilledQty.Equal(d("0.8")))

	e.matchOnce(*clock)
	o, _ = e.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.FilledQty.Equal(o.Quantity), "no over-fill: %s", o.FilledQty)
	assert.True(t, o.Fills[2].Quantity.Equal(d("0.2")), "last fill capped at remaining")

	m := e.Metrics()
	assert.Equal(t, 2, m.PartialFillCount)
}

func TestCancelAfterTimeout(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, clock := newTestEngine(t, stub.get, "5")

	// Price far below the market: no flow reaches it, the order just ages.
	id, err := e.SubmitOrder(Order{
		Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit,
		Quantity: d("2"), Price: d("90.00"), CancelAfter: 2 * time.Second,
	})
	require.NoError(t, err)

	e.matchOnce(*clock)
	o, _ := e.Order(id)
	assert.Equal(t, StatusPending, o.Status)

	// One poll tick past the deadline.
	*clock = clock.Add(2500 * time.Millisecond)
	e.matchOnce(*clock)

	o, _ = e.Order(id)
	assert.Equal(t, StatusCancelled, o.Status)

	m := e.Metrics()
	assert.Equal(t, 1, m.CancelledOrders)
	assert.True(t, m.CancelledQuantity.Equal(d("2")), "cancelled quantity %s", m.CancelledQuantity)
}

func TestCancellationAfterFullFillIsNoOp(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, clock := newTestEngine(t, stub.get, "5")

	id, err := e.SubmitOrder(Order{
		Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit,
		Quantity: d("1"), Price: d("100.10"), CancelAfter: time.Second,
	})
	require.NoError(t, err)

	e.matchOnce(*clock)
	o, _ := e.Order(id)
	require.Equal(t, StatusFilled, o.Status)

	*clock = clock.Add(5 * time.Second)
	e.matchOnce(*clock)

	o, _ = e.Order(id)
	assert.Equal(t, StatusFilled, o.Status, "terminal orders never transition")
	m := e.Metrics()
	assert.Equal(t, 0, m.CancelledOrders)
	assert.True(t, m.CancelledQuantity.IsZero())
}

func TestOnFillCallbackAndHistory(t *testing.T) {
	stub := &quoteStub{bid: "100.00", ask: "100.10"}
	e, clock := newTestEngine(t, stub.get, "5")

	var got []Fill
	e.OnFill = func(f Fill) { got = append(got, f) }

	_, err := e.SubmitOrder(Order{
		Symbol: "ETHUSDT", Side: SideSell, Kind: KindMarket, Quantity: d("1"),
	})
	require.NoError(t, err)

	e.matchOnce(*clock)

	require.Len(t, got, 1)
	assert.Equal(t, FillTaker, got[0].Type)
	assert.True(t, got[0].Price.Equal(d("100.00")), "market sell executes at the bid")
	assert.Len(t, e.FillHistory(), 1)

	m := e.Metrics()
	assert.Equal(t, 0.0, m.MakerFillRate)
}

func TestQuoteErrorLeavesOrderUntouched(t *testing.T) {
	calls := 0
	quotes := func(symbol string) (market.Quote, error) {
		calls++
		if calls == 1 {
			return market.Quote{}, errors.New("feed offline")
		}
		return market.Quote{
			Symbol: symbol, BestBid: d("100.00"), BestAsk: d("100.10"),
			LastPrice: d("100.00"), Timestamp: time.Now(),
		}, nil
	}
	e, clock := newTestEngine(t, quotes, "5")

	id, err := e.SubmitOrder(Order{
		Symbol: "BTCUSDT", Side: SideBuy, Kind: KindLimit,
		Quantity: d("1"), Price: d("100.10"),
	})
	require.NoError(t, err)

	e.matchOnce(*clock) // feed error: logged, order kept
	o, _ := e.Order(id)
	assert.Equal(t, StatusPending, o.Status)

	e.matchOnce(*clock) // recovered: fills normally
	o, _ = e.Order(id)
	assert.Equal(t, StatusFilled, o.Status)
}
