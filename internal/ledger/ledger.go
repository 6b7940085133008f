package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/internal/fill"
)

// Lot is a parcel of a long position. Lots are created by buy fills and
// consumed oldest-first by sell fills.
type Lot struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	FeePaid    decimal.Decimal `json:"fee_paid"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Delta reports the effect of applying one fill.
type Delta struct {
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
	Position    decimal.Decimal
}

// PositionSnapshot summarizes one symbol inside a ledger snapshot.
type PositionSnapshot struct {
	Quantity     decimal.Decimal `json:"quantity"`
	AvgEntry     decimal.Decimal `json:"avg_entry"`
	OpenLotCount int             `json:"open_lot_count"`
}

// Snapshot is the ledger's export contract. Field names are consumed by
// reports and must stay stable.
type Snapshot struct {
	Cash          decimal.Decimal             `json:"cash"`
	RealizedPnL   decimal.Decimal             `json:"realized_pnl"`
	TotalFeesPaid decimal.Decimal             `json:"total_fees_paid"`
	Positions     map[string]PositionSnapshot `json:"positions"`
	Timestamp     time.Time                   `json:"timestamp"`
}

// Ledger is the FIFO accounting book: cash, per-symbol lot queues, realized
// P&L and fees, all in exact decimal arithmetic. It never errors on
// inconsistent input; it degrades to a zero-effect delta and trusts that it
// is only fed fills the engine actually produced.
type Ledger struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	realized decimal.Decimal
	fees     decimal.Decimal
	lots     map[string][]*Lot
	feePct   decimal.Decimal
	log      *zap.SugaredLogger
	now      func() time.Time
}

// New creates a ledger with starting cash and a proportional fee rate
// (e.g. 0.001 for 10 bps).
func New(initialCash, feePct decimal.Decimal, log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{
		cash:     initialCash,
		realized: decimal.Zero,
		fees:     decimal.Zero,
		lots:     make(map[string][]*Lot),
		feePct:   feePct,
		log:      log,
		now:      time.Now,
	}
}

// ApplyFill books one fill and returns the resulting deltas.
//
// Fee rule: every fill pays quantity*price*feePct. A buy's fee is stored on
// its lot; a sell's fee is distributed pro-rata across the lots it consumes,
// alongside the consumed share of each lot's stored entry fee. Each fee
// amount is counted exactly once.
func (l *Ledger) ApplyFill(f fill.Fill) Delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch f.Side {
	case fill.SideBuy:
		return l.applyBuy(f)
	case fill.SideSell:
		return l.applySell(f)
	default:
		l.log.Warnw("ledger ignoring fill with unknown side", "side", f.Side, "order_id", f.OrderID)
		return zeroDelta()
	}
}

func (l *Ledger) applyBuy(f fill.Fill) Delta {
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() {
		l.log.Warnw("ledger ignoring degenerate buy fill", "order_id", f.OrderID,
			"qty", f.Quantity, "price", f.Price)
		return zeroDelta()
	}

	notional := f.Quantity.Mul(f.Price)
	fee := notional.Mul(l.feePct)

	l.cash = l.cash.Sub(notional).Sub(fee)
	l.fees = l.fees.Add(fee)
	l.lots[f.Symbol] = append(l.lots[f.Symbol], &Lot{
		ID:         uuid.NewString(),
		Symbol:     f.Symbol,
		Quantity:   f.Quantity,
		EntryPrice: f.Price,
		FeePaid:    fee,
		CreatedAt:  l.now(),
	})

	return Delta{
		Cash:        notional.Add(fee).Neg(),
		RealizedPnL: decimal.Zero,
		Position:    f.Quantity,
	}
}

func (l *Ledger) applySell(f fill.Fill) Delta {
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() {
		l.log.Warnw("ledger ignoring degenerate sell fill", "order_id", f.OrderID,
			"qty", f.Quantity, "price", f.Price)
		return zeroDelta()
	}

	queue := l.lots[f.Symbol]
	available := decimal.Zero
	for _, lot := range queue {
		available = available.Add(lot.Quantity)
	}
	if f.Quantity.GreaterThan(available) {
		// Upstream position tracking should make this impossible; refuse to
		// go short rather than corrupt the book.
		l.log.Warnw("ledger refusing oversell", "symbol", f.Symbol,
			"requested", f.Quantity, "available", available)
		return zeroDelta()
	}

	notional := f.Quantity.Mul(f.Price)
	sellFee := notional.Mul(l.feePct)

	remaining := f.Quantity
	realized := decimal.Zero
	consumedLots := 0
	for _, lot := range queue {
		if !remaining.IsPositive() {
			break
		}
		consumed := decimal.Min(remaining, lot.Quantity)

		gross := consumed.Mul(f.Price.Sub(lot.EntryPrice))
		entryFeeShare := lot.FeePaid.Mul(consumed).Div(lot.Quantity)
		sellFeeShare := sellFee.Mul(consumed).Div(f.Quantity)
		realized = realized.Add(gross).Sub(entryFeeShare).Sub(sellFeeShare)

		lot.Quantity = lot.Quantity.Sub(consumed)
		lot.FeePaid = lot.FeePaid.Sub(entryFeeShare)
		remaining = remaining.Sub(consumed)
		if lot.Quantity.IsZero() {
			consumedLots++
		}
	}
	l.lots[f.Symbol] = queue[consumedLots:]
	if len(l.lots[f.Symbol]) == 0 {
		delete(l.lots, f.Symbol)
	}

	l.cash = l.cash.Add(notional).Sub(sellFee)
	l.fees = l.fees.Add(sellFee)
	l.realized = l.realized.Add(realized)

	return Delta{
		Cash:        notional.Sub(sellFee),
		RealizedPnL: realized,
		Position:    f.Quantity.Neg(),
	}
}

// Unrealized marks every open lot against the provided prices. Lots with no
// mark price contribute nothing.
func (l *Ledger) Unrealized(marks map[string]decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for symbol, queue := range l.lots {
		mark, ok := marks[symbol]
		if !ok {
			continue
		}
		for _, lot := range queue {
			value := lot.Quantity.Mul(mark)
			basis := lot.Quantity.Mul(lot.EntryPrice).Add(lot.FeePaid)
			total = total.Add(value.Sub(basis))
		}
	}
	return total
}

// Equity is cash plus unrealized P&L at the given marks.
func (l *Ledger) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	return l.Cash().Add(l.Unrealized(marks))
}

// MarketValue is cash plus the marked value of every open lot, i.e. the
// liquidation value of the account before exit fees.
func (l *Ledger) MarketValue(marks map[string]decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.cash
	for symbol, queue := range l.lots {
		mark, ok := marks[symbol]
		if !ok {
			continue
		}
		for _, lot := range queue {
			total = total.Add(lot.Quantity.Mul(mark))
		}
	}
	return total
}

// AverageEntry returns the quantity-weighted mean entry price of open lots.
func (l *Ledger) AverageEntry(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	qty := decimal.Zero
	notional := decimal.Zero
	for _, lot := range l.lots[symbol] {
		qty = qty.Add(lot.Quantity)
		notional = notional.Add(lot.Quantity.Mul(lot.EntryPrice))
	}
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// Position returns the net long quantity for a symbol.
func (l *Ledger) Position(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	qty := decimal.Zero
	for _, lot := range l.lots[symbol] {
		qty = qty.Add(lot.Quantity)
	}
	return qty
}

// Lots returns a copy of the open lot queue for a symbol, oldest first.
func (l *Ledger) Lots(symbol string) []Lot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Lot, 0, len(l.lots[symbol]))
	for _, lot := range l.lots[symbol] {
		out = append(out, *lot)
	}
	return out
}

// Cash returns current cash.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Realized returns cumulative realized P&L net of fees.
func (l *Ledger) Realized() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// FeesPaid returns cumulative fees.
func (l *Ledger) FeesPaid() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fees
}

// Snapshot exports the ledger state for persistence and reporting.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(l.lots))
	for symbol, queue := range l.lots {
		qty := decimal.Zero
		notional := decimal.Zero
		for _, lot := range queue {
			qty = qty.Add(lot.Quantity)
			notional = notional.Add(lot.Quantity.Mul(lot.EntryPrice))
		}
		avg := decimal.Zero
		if qty.IsPositive() {
			avg = notional.Div(qty)
		}
		positions[symbol] = PositionSnapshot{
			Quantity:     qty,
			AvgEntry:     avg,
			OpenLotCount: len(queue),
		}
	}

	return Snapshot{
		Cash:          l.cash,
		RealizedPnL:   l.realized,
		TotalFeesPaid: l.fees,
		Positions:     positions,
		Timestamp:     l.now(),
	}
}

func zeroDelta() Delta {
	return Delta{Cash: decimal.Zero, RealizedPnL: decimal.Zero, Position: decimal.Zero}
}
