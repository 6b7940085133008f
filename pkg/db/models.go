package db

import (
	"time"
)

// Order is an order row. Money fields are exact decimal strings.
type Order struct {
	ID        string
	Symbol    string
	Side      string
	Kind      string
	Price     string
	Qty       string
	FilledQty string
	MakerOnly bool
	Status    string
	CreatedAt time.Time
}

// Fill is an execution row.
type Fill struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      string
	Price     string
	Qty       string
	FillType  string
	LatencyMs int64
	CreatedAt time.Time
}

// LedgerSnapshot is a periodic export of the accounting state. Positions is
// the JSON-encoded per-symbol map.
type LedgerSnapshot struct {
	ID            string
	Cash          string
	RealizedPnL   string
	TotalFeesPaid string
	Positions     string
	CreatedAt     time.Time
}
