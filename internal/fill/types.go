package fill

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order kinds.
const (
	KindMarket = "MARKET"
	KindLimit  = "LIMIT"
)

// Order lifecycle states. PENDING and PARTIAL are live; FILLED and CANCELLED
// are terminal.
const (
	StatusPending   = "PENDING"
	StatusPartial   = "PARTIAL"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
)

// Fill liquidity roles.
const (
	FillMaker = "MAKER"
	FillTaker = "TAKER"
)

// Order is a simulated order owned by the engine. Quantity and FilledQty
// satisfy 0 <= FilledQty <= Quantity at every observation point.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Kind        string          `json:"kind"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"` // required for LIMIT / maker-only
	MakerOnly   bool            `json:"maker_only"`
	CancelAfter time.Duration   `json:"cancel_after"` // zero means no timeout
	CreatedAt   time.Time       `json:"created_at"`
	FilledQty   decimal.Decimal `json:"filled_quantity"`
	Status      string          `json:"status"`
	Fills       []Fill          `json:"fills,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Terminal reports whether the order can no longer change.
func (o *Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// Fill records one execution. Immutable once created.
type Fill struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Type      string          `json:"fill_type"`
	Latency   time.Duration   `json:"latency_ms"`
	Timestamp time.Time       `json:"timestamp"`
}

// ValidationError rejects a malformed order at submission, before it can
// enter the matching loop.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation: %s", e.Reason)
}

func validate(o Order) error {
	switch o.Side {
	case SideBuy, SideSell:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown side %q", o.Side)}
	}
	switch o.Kind {
	case KindMarket, KindLimit:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown kind %q", o.Kind)}
	}
	if !o.Quantity.IsPositive() {
		return &ValidationError{Reason: fmt.Sprintf("quantity must be positive, got %s", o.Quantity)}
	}
	if (o.Kind == KindLimit || o.MakerOnly) && !o.Price.IsPositive() {
		return &ValidationError{Reason: "limit and maker-only orders require a positive price"}
	}
	return nil
}
