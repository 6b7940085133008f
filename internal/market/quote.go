package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a top-of-book snapshot for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	LastPrice decimal.Decimal `json:"last_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the spread midpoint.
func (q Quote) Mid() decimal.Decimal {
	return q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
}

// QuoteFunc is the upstream market-data contract: the core never parses
// exchange wire protocols, it only calls this.
type QuoteFunc func(symbol string) (Quote, error)
