package service

import (
	"context"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/pricecache"
)

// PriceView is the current price of a symbol as served to clients.
type PriceView struct {
	Symbol    string
	Price     pricecache.Entry
	Stale     bool // older than PriceFreshness
	CheckedAt time.Time
}

// PriceService answers price queries from the price cache.
type PriceService struct {
	cache   *pricecache.Cache
	symbols *domain.SymbolRegistry
}

// NewPriceService creates a new PriceService.
func NewPriceService(cache *pricecache.Cache, symbols *domain.SymbolRegistry) *PriceService {
	return &PriceService{
		cache:   cache,
		symbols: symbols,
	}
}

// Current returns the price of symbol, waiting on a refresh when the
// cached one is older than PriceFreshness. A stale price is returned when
// the refresh fails; domain.ErrNoPrice when nothing was ever cached.
func (s *PriceService) Current(ctx context.Context, symbol string) (*PriceView, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !s.symbols.Allows(sym) {
		return nil, domain.ErrSymbolNotFound
	}

	e, ok := s.cache.Read(ctx, sym, PriceFreshness)
	if !ok {
		return nil, domain.ErrNoPrice
	}
	now := time.Now().UTC()
	return &PriceView{
		Symbol:    sym,
		Price:     e,
		Stale:     e.Age(now) > PriceFreshness,
		CheckedAt: now,
	}, nil
}

// Symbols lists the configured symbols. Empty means any symbol is allowed.
func (s *PriceService) Symbols() []string {
	return s.symbols.List()
}

// Cached returns every cached price ordered by symbol, without refreshing.
func (s *PriceService) Cached() []pricecache.Entry {
	return s.cache.Snapshot()
}
