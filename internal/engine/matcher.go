// Package engine runs the background order matcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/pricecache"
	"github.com/efreitasn/papertrade/internal/store"
)

// PriceReader resolves the market price of a symbol within a freshness
// bound. *pricecache.Cache implements it.
type PriceReader interface {
	Read(ctx context.Context, symbol string, maxAge time.Duration) (pricecache.Entry, bool)
}

// Notifier is told about every order the matcher settles. Implementations
// must not block.
type Notifier interface {
	OrderFilled(order *domain.Order, tx *domain.Transaction)
	OrderCancelled(order *domain.Order, reason string)
}

type nopNotifier struct{}

func (nopNotifier) OrderFilled(*domain.Order, *domain.Transaction) {}
func (nopNotifier) OrderCancelled(*domain.Order, string)           {}

// Cancel reasons reported to the Notifier.
const (
	ReasonInsufficientBalance  = "insufficient_balance"
	ReasonInsufficientHoldings = "insufficient_holdings"
)

// Outcome labels for matcher metrics.
const (
	outcomeFilled    = "filled"
	outcomeCancelled = "cancelled"
	outcomeHeld      = "held"
	outcomeSkipped   = "skipped"
	outcomeSettled   = "settled"
	outcomeFailed    = "failed"
)

// maxPriceReads bounds concurrent cache reads per cycle.
const maxPriceReads = 8

// Config controls the matcher cadence and price freshness.
type Config struct {
	Interval time.Duration
	// MaxAge is the freshness bound passed to the price cache.
	MaxAge time.Duration
	// MaxStaleness, when positive, skips orders whose resolved price is
	// older than this, including stale fallbacks.
	MaxStaleness time.Duration
}

// DefaultConfig is a 30 second cycle with 30 second fresh prices.
var DefaultConfig = Config{
	Interval: 30 * time.Second,
	MaxAge:   30 * time.Second,
}

// CycleReport counts what one matcher cycle did.
type CycleReport struct {
	Filled    int
	Cancelled int
	Held      int // price known but limit not crossed
	Skipped   int // no usable price
	Settled   int // order left active before the matcher reached it
	Failed    int
}

// Matcher fills active limit orders whose limit the market price has
// crossed. Buys are processed before sells; every fill executes at the
// order's limit price.
type Matcher struct {
	store    store.Store
	prices   PriceReader
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewMatcher creates a Matcher. A nil notifier discards notifications.
func NewMatcher(
	st store.Store,
	prices PriceReader,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Matcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig.MaxAge
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Matcher{
		store:    st,
		prices:   prices,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Start launches a background goroutine that runs one cycle per interval.
// Cycles never overlap. It stops when ctx is cancelled.
func (m *Matcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunCycle(ctx)
			}
		}
	}()
}

// RunCycle evaluates every active order once. Errors on one order are
// logged and never abort the cycle.
func (m *Matcher) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	var report CycleReport

	buys, err := m.store.ActiveOrders(ctx, domain.OrderSideBuy)
	if err != nil {
		m.logger.Error("failed to load active buy orders", slog.String("error", err.Error()))
		return report
	}
	sells, err := m.store.ActiveOrders(ctx, domain.OrderSideSell)
	if err != nil {
		m.logger.Error("failed to load active sell orders", slog.String("error", err.Error()))
		return report
	}
	if len(buys)+len(sells) == 0 {
		return report
	}

	prices := m.resolvePrices(ctx, buys, sells)

	for _, o := range buys {
		m.count(&report, m.process(ctx, o, prices))
	}
	for _, o := range sells {
		m.count(&report, m.process(ctx, o, prices))
	}

	m.metrics.MatcherCycle.Observe(time.Since(start).Seconds())
	m.logger.Info("match cycle complete",
		slog.Int("orders", len(buys)+len(sells)),
		slog.Int("filled", report.Filled),
		slog.Int("cancelled", report.Cancelled),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report
}

// resolvePrices reads every distinct symbol once, concurrently, so one
// fetch cycle serves all orders on a symbol.
func (m *Matcher) resolvePrices(ctx context.Context, batches ...[]*domain.Order) map[string]pricecache.Entry {
	symbols := make(map[string]struct{})
	for _, batch := range batches {
		for _, o := range batch {
			symbols[o.Symbol] = struct{}{}
		}
	}

	type result struct {
		entry pricecache.Entry
		ok    bool
	}
	results := make(map[string]*result, len(symbols))
	for s := range symbols {
		results[s] = &result{}
	}

	var g errgroup.Group
	g.SetLimit(maxPriceReads)
	for s, r := range results {
		g.Go(func() error {
			r.entry, r.ok = m.prices.Read(ctx, s, m.cfg.MaxAge)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]pricecache.Entry, len(results))
	for s, r := range results {
		if r.ok {
			out[s] = r.entry
		}
	}
	return out
}

func (m *Matcher) count(r *CycleReport, outcome string) {
	switch outcome {
	case outcomeFilled:
		r.Filled++
	case outcomeCancelled:
		r.Cancelled++
	case outcomeHeld:
		r.Held++
	case outcomeSkipped:
		r.Skipped++
	case outcomeSettled:
		r.Settled++
	default:
		r.Failed++
	}
	m.metrics.MatcherOrders.WithLabelValues(outcome).Inc()
}

// process evaluates a single order. A panic is contained to this order.
func (m *Matcher) process(ctx context.Context, o *domain.Order, prices map[string]pricecache.Entry) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while matching order",
				slog.String("order_id", o.OrderID),
				slog.String("panic", fmt.Sprint(r)),
			)
			outcome = outcomeFailed
		}
	}()

	entry, ok := prices[o.Symbol]
	if !ok {
		m.logger.Debug("no price for order, skipping",
			slog.String("order_id", o.OrderID),
			slog.String("symbol", o.Symbol),
		)
		return outcomeSkipped
	}
	if m.cfg.MaxStaleness > 0 && entry.Age(m.now()) > m.cfg.MaxStaleness {
		m.logger.Debug("price too stale for order, skipping",
			slog.String("order_id", o.OrderID),
			slog.String("symbol", o.Symbol),
			slog.Duration("age", entry.Age(m.now())),
		)
		return outcomeSkipped
	}
	if !o.Crosses(entry.Price) {
		return outcomeHeld
	}

	if reason, err := m.precheck(ctx, o); err != nil {
		m.logOrderError("failed to check funds", o, err)
		return outcomeFailed
	} else if reason != "" {
		return m.cancel(ctx, o, reason)
	}

	tx, err := m.store.ApplyFill(ctx, o, o.LimitPrice)
	switch {
	case err == nil:
		filled := o.Clone()
		filled.Status = domain.OrderStatusFilled
		filled.UpdatedAt = tx.ExecutedAt
		m.logger.Info("order filled",
			slog.String("order_id", o.OrderID),
			slog.String("owner_id", o.OwnerID),
			slog.String("symbol", o.Symbol),
			slog.String("side", string(o.Side)),
			slog.String("quantity", o.Quantity.String()),
			slog.String("price", tx.Price.String()),
			slog.String("market", entry.Price.String()),
		)
		m.notifier.OrderFilled(filled, tx)
		return outcomeFilled
	case errors.Is(err, domain.ErrOrderSettled):
		return outcomeSettled
	case errors.Is(err, domain.ErrInsufficientBalance):
		return m.cancel(ctx, o, ReasonInsufficientBalance)
	case errors.Is(err, domain.ErrInsufficientHoldings):
		return m.cancel(ctx, o, ReasonInsufficientHoldings)
	default:
		m.logOrderError("failed to fill order", o, err)
		return outcomeFailed
	}
}

// precheck returns a cancel reason when the owner cannot cover the order
// right now. The store re-checks inside ApplyFill.
func (m *Matcher) precheck(ctx context.Context, o *domain.Order) (string, error) {
	if o.Side == domain.OrderSideBuy {
		balance, err := m.store.Balance(ctx, o.OwnerID)
		if err != nil {
			return "", err
		}
		if balance.LessThan(o.Notional()) {
			return ReasonInsufficientBalance, nil
		}
		return "", nil
	}

	held, err := m.store.HoldingQuantity(ctx, o.OwnerID, o.Symbol)
	if err != nil {
		return "", err
	}
	if held.LessThan(o.Quantity) {
		return ReasonInsufficientHoldings, nil
	}
	return "", nil
}

func (m *Matcher) cancel(ctx context.Context, o *domain.Order, reason string) string {
	cancelled, err := m.store.SetOrderStatus(ctx, o.OrderID, domain.OrderStatusActive, domain.OrderStatusCancelled)
	switch {
	case err == nil:
		m.logger.Info("order cancelled",
			slog.String("order_id", o.OrderID),
			slog.String("owner_id", o.OwnerID),
			slog.String("reason", reason),
		)
		m.notifier.OrderCancelled(cancelled, reason)
		return outcomeCancelled
	case errors.Is(err, domain.ErrOrderSettled):
		return outcomeSettled
	default:
		m.logOrderError("failed to cancel order", o, err)
		return outcomeFailed
	}
}

func (m *Matcher) logOrderError(msg string, o *domain.Order, err error) {
	m.logger.Error(msg,
		slog.String("order_id", o.OrderID),
		slog.String("symbol", o.Symbol),
		slog.String("error", err.Error()),
	)
}
