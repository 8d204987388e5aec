package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/pricecache"
)

// fakePrices serves fixed cache entries and counts reads per symbol.
type fakePrices struct {
	mu      sync.Mutex
	entries map[string]pricecache.Entry
	reads   map[string]int
	maxAges []time.Duration
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		entries: make(map[string]pricecache.Entry),
		reads:   make(map[string]int),
	}
}

func (f *fakePrices) set(symbol, price string) {
	f.setAt(symbol, price, time.Now())
}

func (f *fakePrices) setAt(symbol, price string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[symbol] = pricecache.Entry{Symbol: symbol, Price: dec(price), UpdatedAt: at}
}

func (f *fakePrices) Read(_ context.Context, symbol string, maxAge time.Duration) (pricecache.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[symbol]++
	f.maxAges = append(f.maxAges, maxAge)
	e, ok := f.entries[symbol]
	return e, ok
}

func TestSummary_ValuesHoldings(t *testing.T) {
	env := newTestOrderEnv()
	prices := newFakePrices()
	svc := NewPortfolioService(env.store, prices)

	env.openAccount(t, "alice", "1000")
	env.fill(t, "alice", "AAPL", domain.OrderSideBuy, "10", "50")
	env.fill(t, "alice", "AAPL", domain.OrderSideBuy, "10", "30")
	env.fill(t, "alice", "AAPL", domain.OrderSideSell, "5", "60")
	env.fill(t, "alice", "MSFT", domain.OrderSideBuy, "1", "100")
	prices.set("AAPL", "45")

	p, err := svc.Summary(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !p.Cash.Equal(dec("400")) {
		t.Errorf("cash = %s, want 400", p.Cash)
	}
	if len(p.Holdings) != 2 {
		t.Fatalf("got %d holdings, want 2", len(p.Holdings))
	}

	aapl := p.Holdings[0]
	if aapl.Symbol != "AAPL" {
		t.Fatalf("first holding = %s, want AAPL", aapl.Symbol)
	}
	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"quantity", aapl.Quantity.String(), "15"},
		{"average cost", aapl.AverageCost.String(), "40"},
		{"cost basis", aapl.CostBasis.String(), "600"},
		{"market value", aapl.MarketValue.String(), "675"},
		{"gain/loss", aapl.GainLoss.String(), "75"},
		{"gain/loss %", aapl.GainLossPercent.String(), "12.5"},
		{"weight", aapl.Weight.String(), "100"},
	}
	for _, c := range checks {
		if !dec(c.got).Equal(dec(c.want)) {
			t.Errorf("AAPL %s = %s, want %s", c.field, c.got, c.want)
		}
	}
	if aapl.CurrentPrice == nil || !aapl.CurrentPrice.Equal(dec("45")) {
		t.Errorf("AAPL current price = %v, want 45", aapl.CurrentPrice)
	}

	msft := p.Holdings[1]
	if msft.CurrentPrice != nil {
		t.Errorf("MSFT current price = %v, want nil without a cached price", msft.CurrentPrice)
	}
	if !msft.MarketValue.IsZero() || !msft.Weight.IsZero() {
		t.Errorf("MSFT value = %s weight = %s, want zero", msft.MarketValue, msft.Weight)
	}
	if !msft.CostBasis.Equal(dec("100")) {
		t.Errorf("MSFT cost basis = %s, want 100", msft.CostBasis)
	}

	if !p.HoldingsValue.Equal(dec("675")) {
		t.Errorf("holdings value = %s, want 675", p.HoldingsValue)
	}
	if !p.TotalValue.Equal(dec("1075")) {
		t.Errorf("total value = %s, want 1075", p.TotalValue)
	}
	// Unpriced holdings are left out of the gain/loss.
	if !p.CostBasis.Equal(dec("600")) || !p.GainLoss.Equal(dec("75")) || !p.GainLossPercent.Equal(dec("12.5")) {
		t.Errorf("portfolio basis/gain/pct = %s/%s/%s, want 600/75/12.5", p.CostBasis, p.GainLoss, p.GainLossPercent)
	}
}

func TestSummary_ReadsEachSymbolOnceWithFreshness(t *testing.T) {
	env := newTestOrderEnv()
	prices := newFakePrices()
	svc := NewPortfolioService(env.store, prices)

	env.openAccount(t, "alice", "1000")
	env.fill(t, "alice", "AAPL", domain.OrderSideBuy, "1", "10")
	env.fill(t, "alice", "MSFT", domain.OrderSideBuy, "1", "10")

	if _, err := svc.Summary(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if prices.reads["AAPL"] != 1 || prices.reads["MSFT"] != 1 {
		t.Errorf("reads = %v, want one per symbol", prices.reads)
	}
	for _, age := range prices.maxAges {
		if age != PriceFreshness {
			t.Errorf("maxAge = %v, want %v", age, PriceFreshness)
		}
	}
}

func TestSummary_EmptyAndUnknown(t *testing.T) {
	env := newTestOrderEnv()
	svc := NewPortfolioService(env.store, newFakePrices())
	env.openAccount(t, "alice", "250")

	p, err := svc.Summary(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Holdings) != 0 || !p.TotalValue.Equal(dec("250")) || !p.GainLossPercent.IsZero() {
		t.Errorf("empty portfolio = %+v", p)
	}

	if _, err := svc.Summary(context.Background(), "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
}

func TestTransactions_Paging(t *testing.T) {
	env := newTestOrderEnv()
	svc := NewPortfolioService(env.store, newFakePrices())
	env.openAccount(t, "alice", "1000")
	for i := 0; i < 3; i++ {
		env.fill(t, "alice", "AAPL", domain.OrderSideBuy, "1", "10")
	}
	env.fill(t, "alice", "AAPL", domain.OrderSideSell, "2", "12")

	page, err := svc.Transactions(context.Background(), "alice", TransactionQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Page != 1 || page.Limit != 50 || page.Total != 4 || len(page.Transactions) != 4 {
		t.Fatalf("default page = %d/%d total %d len %d", page.Page, page.Limit, page.Total, len(page.Transactions))
	}
	newest := page.Transactions[0]
	if newest.Side() != domain.OrderSideSell || !newest.Quantity.Equal(dec("-2")) {
		t.Errorf("newest = %s %s, want sell -2", newest.Side(), newest.Quantity)
	}

	page, err = svc.Transactions(context.Background(), "alice", TransactionQuery{Page: 2, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Transactions) != 1 || page.Total != 4 {
		t.Errorf("page 2 = len %d total %d, want 1/4", len(page.Transactions), page.Total)
	}
}

func TestTransactions_InvalidPaging(t *testing.T) {
	svc := NewPortfolioService(newTestOrderEnv().store, newFakePrices())
	for _, tc := range []struct{ page, limit int }{{-1, 10}, {1, -1}, {1, 101}} {
		var ve *domain.ValidationError
		if _, err := svc.Transactions(context.Background(), "alice", TransactionQuery{Page: tc.page, Limit: tc.limit}); !errors.As(err, &ve) {
			t.Errorf("page=%d limit=%d: error = %v, want ValidationError", tc.page, tc.limit, err)
		}
	}
}

func TestTransactions_Filters(t *testing.T) {
	env := newTestOrderEnv()
	svc := NewPortfolioService(env.store, newFakePrices())
	env.openAccount(t, "alice", "1000")
	env.fill(t, "alice", "AAPL", domain.OrderSideBuy, "2", "10")
	env.fill(t, "alice", "MSFT", domain.OrderSideBuy, "1", "20")
	env.fill(t, "alice", "AAPL", domain.OrderSideSell, "1", "12")
	ctx := context.Background()

	tests := []struct {
		name  string
		query TransactionQuery
		want  int
	}{
		{"symbol", TransactionQuery{Symbol: "aapl"}, 2},
		{"side", TransactionQuery{Side: "buy"}, 2},
		{"symbol and side", TransactionQuery{Symbol: "AAPL", Side: "sell"}, 1},
		{"from far future", TransactionQuery{From: "2999-01-01"}, 0},
		{"to far future", TransactionQuery{To: "2999-01-01T00:00:00Z"}, 3},
		{"range around now", TransactionQuery{From: "2000-01-01", To: "2999-12-31"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.Transactions(ctx, "alice", tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if page.Total != tt.want || len(page.Transactions) != tt.want {
				t.Errorf("total %d len %d, want %d", page.Total, len(page.Transactions), tt.want)
			}
		})
	}

	for _, q := range []TransactionQuery{
		{Side: "hold"},
		{From: "yesterday"},
		{From: "2025-02-01", To: "2025-01-01"},
		{Symbol: "TOO-LONG-SYMBOL"},
	} {
		var ve *domain.ValidationError
		if _, err := svc.Transactions(ctx, "alice", q); !errors.As(err, &ve) {
			t.Errorf("query %+v: error = %v, want ValidationError", q, err)
		}
	}
}

func TestTransactionSummary(t *testing.T) {
	env := newTestOrderEnv()
	svc := NewPortfolioService(env.store, newFakePrices())
	env.openAccount(t, "alice", "1000")
	env.fill(t, "alice", "AAPL", domain.OrderSideBuy, "2", "10")
	env.fill(t, "alice", "MSFT", domain.OrderSideBuy, "1", "20")
	env.fill(t, "alice", "AAPL", domain.OrderSideSell, "1", "12.5")
	ctx := context.Background()

	sum, err := svc.TransactionSummary(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Buys != 2 || sum.Sells != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", sum.Total, sum.Buys, sum.Sells)
	}
	if !sum.BuyVolume.Equal(dec("40")) || !sum.SellVolume.Equal(dec("12.5")) || !sum.Volume.Equal(dec("52.5")) {
		t.Errorf("volumes = %s/%s/%s, want 40/12.5/52.5", sum.BuyVolume, sum.SellVolume, sum.Volume)
	}
	if sum.UniqueSymbols != 2 || sum.MostTraded != "AAPL" {
		t.Errorf("symbols = %d most %q, want 2 AAPL", sum.UniqueSymbols, sum.MostTraded)
	}
	if sum.First == nil || sum.Last == nil || sum.First.After(*sum.Last) {
		t.Errorf("first/last = %v/%v", sum.First, sum.Last)
	}

	env.openAccount(t, "bob", "10")
	empty, err := svc.TransactionSummary(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Total != 0 || empty.First != nil || empty.MostTraded != "" || !empty.Volume.IsZero() {
		t.Errorf("empty summary = %+v", empty)
	}

	if _, err := svc.TransactionSummary(ctx, "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
}
