// Package quote defines the upstream price source the engine polls and a
// client for the Yahoo Finance chart endpoint.
package quote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors returned by a Source. Both are transient from the
// engine's point of view: callers fall back to cached data and retry on
// a later cycle.
var (
	ErrRateLimited = errors.New("upstream_rate_limited")
	ErrNotFound    = errors.New("upstream_symbol_not_found")
)

// Quote is a single live price observation.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	PreviousClose decimal.Decimal // zero when the upstream omits it
	Timestamp     time.Time
}

// Change returns the absolute and percentage move from the previous
// close. Both are zero when no previous close is known.
func (q Quote) Change() (decimal.Decimal, decimal.Decimal) {
	if !q.PreviousClose.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	change := q.Price.Sub(q.PreviousClose)
	pct := change.Div(q.PreviousClose).Mul(decimal.NewFromInt(100)).Round(4)
	return change, pct
}

// Source fetches live quotes from an external price feed.
type Source interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}
