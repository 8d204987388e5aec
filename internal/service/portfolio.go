package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/engine"
	"github.com/efreitasn/papertrade/internal/store"
)

// PriceFreshness is how old a cached price may be for portfolio valuation
// and price queries before a refresh is requested.
const PriceFreshness = 30 * time.Second

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

var hundred = decimal.NewFromInt(100)

// HoldingSummary is one position valued at the current price. CurrentPrice
// is nil when no price has ever been cached for the symbol; the value
// fields are then zero.
type HoldingSummary struct {
	Symbol          string
	Quantity        decimal.Decimal
	AverageCost     decimal.Decimal
	CostBasis       decimal.Decimal
	CurrentPrice    *decimal.Decimal
	PriceAsOf       *time.Time
	MarketValue     decimal.Decimal
	GainLoss        decimal.Decimal
	GainLossPercent decimal.Decimal
	Weight          decimal.Decimal // share of the holdings value, in percent
}

// Portfolio is an owner's cash and valued holdings.
type Portfolio struct {
	OwnerID         string
	Cash            decimal.Decimal
	Holdings        []HoldingSummary
	HoldingsValue   decimal.Decimal
	CostBasis       decimal.Decimal
	TotalValue      decimal.Decimal // cash + holdings value
	GainLoss        decimal.Decimal
	GainLossPercent decimal.Decimal
	AsOf            time.Time
}

// TransactionPage is one page of an owner's fills, newest first.
type TransactionPage struct {
	Transactions []*domain.Transaction
	Page         int
	Limit        int
	Total        int
}

// PortfolioService values holdings and lists transaction history.
type PortfolioService struct {
	store  store.Store
	prices engine.PriceReader
}

// NewPortfolioService creates a new PortfolioService.
func NewPortfolioService(st store.Store, prices engine.PriceReader) *PortfolioService {
	return &PortfolioService{
		store:  st,
		prices: prices,
	}
}

// Summary values every holding of ownerID at its cached price. Average
// cost is the quantity-weighted price of the owner's buy fills.
func (s *PortfolioService) Summary(ctx context.Context, ownerID string) (*Portfolio, error) {
	cash, err := s.store.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.Holdings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	txs, _, err := s.store.Transactions(ctx, ownerID, store.TransactionFilter{}, 1, 0)
	if err != nil {
		return nil, err
	}
	avg := averageCosts(txs)

	summaries := make([]HoldingSummary, len(holdings))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range holdings {
		g.Go(func() error {
			summaries[i] = s.value(gctx, h, avg[h.Symbol])
			return nil
		})
	}
	_ = g.Wait()

	p := &Portfolio{
		OwnerID:  ownerID,
		Cash:     cash,
		Holdings: summaries,
		AsOf:     time.Now().UTC(),
	}
	for _, h := range summaries {
		p.HoldingsValue = p.HoldingsValue.Add(h.MarketValue)
		if h.CurrentPrice != nil {
			p.CostBasis = p.CostBasis.Add(h.CostBasis)
		}
	}
	for i := range p.Holdings {
		if p.HoldingsValue.IsPositive() {
			p.Holdings[i].Weight = p.Holdings[i].MarketValue.Div(p.HoldingsValue).Mul(hundred).Round(2)
		}
	}
	p.TotalValue = cash.Add(p.HoldingsValue)
	p.GainLoss = p.HoldingsValue.Sub(p.CostBasis)
	p.GainLossPercent = percentOf(p.GainLoss, p.CostBasis)
	return p, nil
}

func (s *PortfolioService) value(ctx context.Context, h *domain.Holding, avgCost decimal.Decimal) HoldingSummary {
	hs := HoldingSummary{
		Symbol:      h.Symbol,
		Quantity:    h.Quantity,
		AverageCost: avgCost.Round(4),
		CostBasis:   h.Quantity.Mul(avgCost).Round(2),
	}
	e, ok := s.prices.Read(ctx, h.Symbol, PriceFreshness)
	if !ok {
		return hs
	}
	price, asOf := e.Price, e.UpdatedAt
	hs.CurrentPrice = &price
	hs.PriceAsOf = &asOf
	hs.MarketValue = h.Quantity.Mul(price).Round(2)
	hs.GainLoss = hs.MarketValue.Sub(hs.CostBasis)
	hs.GainLossPercent = percentOf(hs.GainLoss, hs.CostBasis)
	return hs
}

// averageCosts returns the quantity-weighted buy price per symbol.
func averageCosts(txs []*domain.Transaction) map[string]decimal.Decimal {
	qty := make(map[string]decimal.Decimal)
	cost := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.Side() != domain.OrderSideBuy {
			continue
		}
		qty[tx.Symbol] = qty[tx.Symbol].Add(tx.Quantity)
		cost[tx.Symbol] = cost[tx.Symbol].Add(tx.Value())
	}
	out := make(map[string]decimal.Decimal, len(qty))
	for sym, q := range qty {
		if q.IsPositive() {
			out[sym] = cost[sym].Div(q)
		}
	}
	return out
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// TransactionQuery filters and pages a transaction listing. Empty
// filters match everything. From and To are RFC 3339 timestamps or
// YYYY-MM-DD dates, both inclusive; a date To covers the whole day.
type TransactionQuery struct {
	Symbol string
	Side   string
	From   string
	To     string
	Page   int
	Limit  int
}

// Transactions returns one page of the owner's fills matching q. page
// defaults to 1 and limit to 50; limit may not exceed 100.
func (s *PortfolioService) Transactions(ctx context.Context, ownerID string, q TransactionQuery) (*TransactionPage, error) {
	page, limit := q.Page, q.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if page < 1 {
		return nil, &domain.ValidationError{Message: "page must be a positive integer"}
	}
	if limit < 1 || limit > maxPageSize {
		return nil, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}
	filter, err := q.filter()
	if err != nil {
		return nil, err
	}

	txs, total, err := s.store.Transactions(ctx, ownerID, filter, page, limit)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{
		Transactions: txs,
		Page:         page,
		Limit:        limit,
		Total:        total,
	}, nil
}

func (q TransactionQuery) filter() (store.TransactionFilter, error) {
	var f store.TransactionFilter
	if q.Symbol != "" {
		sym, err := domain.NormalizeSymbol(q.Symbol)
		if err != nil {
			return f, err
		}
		f.Symbol = sym
	}
	if q.Side != "" {
		f.Side = domain.OrderSide(q.Side)
		if !f.Side.Valid() {
			return f, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
		}
	}
	var err error
	if f.From, err = parseBound("from", q.From, false); err != nil {
		return f, err
	}
	if f.To, err = parseBound("to", q.To, true); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, &domain.ValidationError{Message: "from must be before to"}
	}
	return f, nil
}

func parseBound(field, v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, &domain.ValidationError{
			Message: field + " must be an RFC 3339 timestamp or a YYYY-MM-DD date",
		}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// TransactionSummary aggregates an owner's whole history. Volumes are
// |quantity| × price.
type TransactionSummary struct {
	Total         int
	Buys          int
	Sells         int
	Volume        decimal.Decimal
	BuyVolume     decimal.Decimal
	SellVolume    decimal.Decimal
	UniqueSymbols int
	MostTraded    string // ties go to the alphabetically first symbol
	First         *time.Time
	Last          *time.Time
}

// TransactionSummary aggregates the owner's fills. An owner without
// fills gets zero counts.
func (s *PortfolioService) TransactionSummary(ctx context.Context, ownerID string) (*TransactionSummary, error) {
	if _, err := s.store.Balance(ctx, ownerID); err != nil {
		return nil, err
	}
	txs, _, err := s.store.Transactions(ctx, ownerID, store.TransactionFilter{}, 1, 0)
	if err != nil {
		return nil, err
	}

	sum := &TransactionSummary{Total: len(txs)}
	counts := make(map[string]int)
	for _, tx := range txs {
		v := tx.Value()
		sum.Volume = sum.Volume.Add(v)
		if tx.Side() == domain.OrderSideBuy {
			sum.Buys++
			sum.BuyVolume = sum.BuyVolume.Add(v)
		} else {
			sum.Sells++
			sum.SellVolume = sum.SellVolume.Add(v)
		}
		counts[tx.Symbol]++

		at := tx.ExecutedAt
		if sum.First == nil || at.Before(*sum.First) {
			sum.First = &at
		}
		if sum.Last == nil || at.After(*sum.Last) {
			sum.Last = &at
		}
	}
	sum.UniqueSymbols = len(counts)
	for sym, n := range counts {
		best := counts[sum.MostTraded]
		if sum.MostTraded == "" || n > best || (n == best && sym < sum.MostTraded) {
			sum.MostTraded = sym
		}
	}
	return sum, nil
}
