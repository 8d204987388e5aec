// Package pricecache keeps the last known price per symbol and funnels
// concurrent refresh requests into a single upstream fetch per symbol.
package pricecache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/metrics"
)

// DefaultWaitTimeout bounds how long a reader blocks on an in-flight fetch.
const DefaultWaitTimeout = 30 * time.Second

// Entry is the cached price of one symbol.
type Entry struct {
	Symbol    string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt)
}

// pendingFetch is the shared completion signal for one in-flight fetch.
// entry and ok are written once before done is closed.
type pendingFetch struct {
	done  chan struct{}
	entry Entry
	ok    bool
}

// Cache is safe for concurrent use. All map and queue mutations happen
// under mu, so the freshness check and the decision to start a fetch are
// atomic with respect to other readers of the same symbol.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	pending map[string]*pendingFetch
	queue   []string
	queued  map[string]bool

	waitTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates an empty cache. A non-positive waitTimeout uses
// DefaultWaitTimeout.
func New(waitTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Cache {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Cache{
		entries:     make(map[string]Entry),
		pending:     make(map[string]*pendingFetch),
		queued:      make(map[string]bool),
		waitTimeout: waitTimeout,
		now:         time.Now,
		logger:      logger,
		metrics:     m,
	}
}

// Read returns the price of symbol if it is at most maxAge old. Otherwise
// it joins the in-flight fetch for symbol, or starts one by queueing the
// symbol for the fetcher, and waits for the result. Every waiter of a
// fetch receives the same result. When the fetch fails, times out or ctx
// ends, Read falls back to the last cached entry; ok is false only when
// no price has ever been cached.
func (c *Cache) Read(ctx context.Context, symbol string, maxAge time.Duration) (Entry, bool) {
	c.mu.Lock()
	if e, ok := c.entries[symbol]; ok && c.now().Sub(e.UpdatedAt) <= maxAge {
		c.mu.Unlock()
		c.metrics.CacheReads.WithLabelValues("fresh").Inc()
		return e, true
	}

	p, inFlight := c.pending[symbol]
	if !inFlight {
		p = &pendingFetch{done: make(chan struct{})}
		c.pending[symbol] = p
		c.enqueueLocked(symbol)
	}
	c.mu.Unlock()

	if inFlight {
		c.metrics.CacheReads.WithLabelValues("joined").Inc()
	} else {
		c.metrics.CacheReads.WithLabelValues("initiated").Inc()
	}
	return c.wait(ctx, symbol, p, !inFlight)
}

func (c *Cache) wait(ctx context.Context, symbol string, p *pendingFetch, initiator bool) (Entry, bool) {
	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.entry, p.ok
	case <-timer.C:
		c.logger.Warn("timed out waiting for price",
			slog.String("symbol", symbol),
			slog.Duration("timeout", c.waitTimeout),
		)
		if initiator {
			c.abandon(symbol, p)
		}
	case <-ctx.Done():
	}

	c.metrics.CacheFallbacks.Inc()
	return c.Get(symbol)
}

// abandon releases the waiters of p with the stale fallback if p is still
// the registered fetch for symbol. The symbol stays queued, so a late
// fetch still refreshes the entry.
func (c *Cache) abandon(symbol string, p *pendingFetch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[symbol] != p {
		return
	}
	e, ok := c.entries[symbol]
	c.resolveLocked(symbol, e, ok)
}

// Update stores a freshly fetched price and releases every waiter of the
// symbol's in-flight fetch with it. Last write wins.
func (c *Cache) Update(symbol string, price decimal.Decimal) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{Symbol: symbol, Price: price, UpdatedAt: c.now()}
	c.entries[symbol] = e
	c.resolveLocked(symbol, e, true)
	return e
}

// Fail releases the waiters of the symbol's in-flight fetch with the last
// cached entry, if any. The cached entry is left untouched.
func (c *Cache) Fail(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[symbol]
	c.resolveLocked(symbol, e, ok)
}

func (c *Cache) resolveLocked(symbol string, e Entry, ok bool) {
	p, exists := c.pending[symbol]
	if !exists {
		return
	}
	delete(c.pending, symbol)
	p.entry = e
	p.ok = ok
	close(p.done)
}

// Request queues symbol for the next fetch cycle. Queueing a symbol that
// is already queued is a no-op.
func (c *Cache) Request(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(symbol)
}

func (c *Cache) enqueueLocked(symbol string) {
	if c.queued[symbol] {
		return
	}
	c.queued[symbol] = true
	c.queue = append(c.queue, symbol)
}

// Drain removes and returns up to max queued symbols in FIFO order. The
// rest stay queued for the next cycle.
func (c *Cache) Drain(max int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.queue)
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]string, n)
	copy(out, c.queue[:n])
	c.queue = append(c.queue[:0], c.queue[n:]...)
	for _, s := range out {
		delete(c.queued, s)
	}
	return out
}

// Get returns the cached entry for symbol regardless of its age.
func (c *Cache) Get(symbol string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	return e, ok
}

// Snapshot returns every cached entry ordered by symbol.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Pending returns the number of symbols with an in-flight fetch.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
