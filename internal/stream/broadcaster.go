package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/pricecache"
	"github.com/efreitasn/papertrade/internal/quote"
)

// BroadcasterConfig controls the polling cadence.
type BroadcasterConfig struct {
	Interval time.Duration // time between polls of the active set
	Spacing  time.Duration // delay between symbols within a poll
}

// DefaultBroadcasterConfig polls every 5 seconds, one symbol per second.
var DefaultBroadcasterConfig = BroadcasterConfig{
	Interval: 5 * time.Second,
	Spacing:  time.Second,
}

// Broadcaster polls the upstream for symbols with live subscribers and
// pushes a price_update only when a symbol's price changed since the last
// push. Every successful poll also refreshes the shared price cache.
type Broadcaster struct {
	registry  *Registry
	source    quote.Source
	cache     *pricecache.Cache
	transport Transport
	cfg       BroadcasterConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu     sync.Mutex
	active map[string]bool
	last   map[string]PriceUpdate

	wake chan string
}

// NewBroadcaster creates a Broadcaster and registers it for activation
// events on registry.
func NewBroadcaster(
	registry *Registry,
	source quote.Source,
	cache *pricecache.Cache,
	transport Transport,
	cfg BroadcasterConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultBroadcasterConfig.Interval
	}
	if cfg.Spacing < 0 {
		cfg.Spacing = 0
	}
	b := &Broadcaster{
		registry:  registry,
		source:    source,
		cache:     cache,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		active:    make(map[string]bool),
		last:      make(map[string]PriceUpdate),
		wake:      make(chan string, 64),
	}
	registry.AddListener(b)
	return b
}

// SymbolActivated schedules an eager poll of the newly watched symbol.
func (b *Broadcaster) SymbolActivated(symbol string) {
	b.mu.Lock()
	b.active[symbol] = true
	b.metrics.ActiveSymbols.Set(float64(len(b.active)))
	b.mu.Unlock()

	select {
	case b.wake <- symbol:
	default:
		// The next tick covers it.
	}
}

// SymbolDeactivated forgets the last pushed price so a later
// re-activation pushes on its first poll.
func (b *Broadcaster) SymbolDeactivated(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, symbol)
	delete(b.last, symbol)
	b.metrics.ActiveSymbols.Set(float64(len(b.active)))
}

// Last returns the most recent pushed update for symbol.
func (b *Broadcaster) Last(symbol string) (PriceUpdate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.last[symbol]
	return u, ok
}

// Start launches the polling goroutine. Polls and eager polls share the
// goroutine, so upstream calls from the broadcaster never overlap. It
// stops when ctx is cancelled.
func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.tick(ctx)
			case symbol := <-b.wake:
				b.poll(ctx, symbol)
			}
		}
	}()
}

// tick polls a snapshot of the active set and returns how many updates
// were pushed. Symbols activated after the snapshot wait for the next
// tick or their eager poll.
func (b *Broadcaster) tick(ctx context.Context) int {
	symbols := b.registry.ActiveSymbols()
	if len(symbols) == 0 {
		return 0
	}

	limiter := rate.NewLimiter(rate.Every(b.cfg.Spacing), 1)
	pushed := 0
	for _, symbol := range symbols {
		if err := limiter.Wait(ctx); err != nil {
			return pushed
		}
		if b.poll(ctx, symbol) {
			pushed++
		}
	}
	return pushed
}

// poll fetches one symbol and pushes it if the price changed.
func (b *Broadcaster) poll(ctx context.Context, symbol string) bool {
	q, err := b.source.FetchQuote(ctx, symbol)
	if err != nil {
		b.recordFailure(symbol, err)
		return false
	}
	b.metrics.UpstreamFetches.WithLabelValues("broadcaster", metrics.FetchOK).Inc()
	b.cache.Update(symbol, q.Price)

	change, pct := q.Change()
	update := PriceUpdate{
		Symbol:        symbol,
		Price:         q.Price,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     b.now().UTC(),
	}

	b.mu.Lock()
	if !b.active[symbol] {
		b.mu.Unlock()
		return false
	}
	if prev, ok := b.last[symbol]; ok && prev.Price.Equal(q.Price) {
		b.mu.Unlock()
		return false
	}
	b.last[symbol] = update
	b.mu.Unlock()

	b.transport.BroadcastToGroup(SymbolGroup(symbol), Event{Type: EventPriceUpdate, Data: update})
	b.metrics.BroadcastPushes.Inc()
	return true
}

func (b *Broadcaster) recordFailure(symbol string, err error) {
	switch {
	case errors.Is(err, quote.ErrRateLimited):
		b.logger.Warn("upstream rate limited", slog.String("symbol", symbol))
		b.metrics.UpstreamFetches.WithLabelValues("broadcaster", metrics.FetchRateLimited).Inc()
	case errors.Is(err, quote.ErrNotFound):
		b.logger.Debug("no upstream price for symbol", slog.String("symbol", symbol))
		b.metrics.UpstreamFetches.WithLabelValues("broadcaster", metrics.FetchNotFound).Inc()
	case errors.Is(err, context.Canceled):
	default:
		b.logger.Error("upstream fetch failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		b.metrics.UpstreamFetches.WithLabelValues("broadcaster", metrics.FetchError).Inc()
	}
}
