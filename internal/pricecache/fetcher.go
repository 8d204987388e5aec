package pricecache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/quote"
)

// FetcherConfig controls the cadence of the upstream fetcher.
type FetcherConfig struct {
	Interval  time.Duration // time between cycles
	BatchSize int           // symbols drained per cycle
	Spacing   time.Duration // delay between consecutive upstream requests
}

// DefaultFetcherConfig mirrors the upstream's free-tier tolerance.
var DefaultFetcherConfig = FetcherConfig{
	Interval:  10 * time.Second,
	BatchSize: 10,
	Spacing:   2 * time.Second,
}

// Fetcher drains the cache's fetch queue on a fixed interval and resolves
// each pending fetch with the upstream result.
type Fetcher struct {
	cache   *Cache
	source  quote.Source
	cfg     FetcherConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFetcher creates a Fetcher. Zero fields in cfg take the defaults.
func NewFetcher(cache *Cache, source quote.Source, cfg FetcherConfig, logger *slog.Logger, m *metrics.Metrics) *Fetcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFetcherConfig.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultFetcherConfig.BatchSize
	}
	if cfg.Spacing < 0 {
		cfg.Spacing = 0
	}
	return &Fetcher{
		cache:   cache,
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Start launches a background goroutine that runs one fetch cycle per
// interval. Cycles run on the same goroutine, so they never overlap. It
// stops when ctx is cancelled.
func (f *Fetcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.tick(ctx)
			}
		}
	}()
}

// tick runs one cycle and returns the number of symbols fetched
// successfully.
func (f *Fetcher) tick(ctx context.Context) int {
	batch := f.cache.Drain(f.cfg.BatchSize)
	if len(batch) == 0 {
		return 0
	}

	// Burst of one: the first request goes out immediately, later ones
	// wait for the spacing.
	limiter := rate.NewLimiter(rate.Every(f.cfg.Spacing), 1)
	fetched := 0

	for i, symbol := range batch {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range batch[i:] {
				f.cache.Fail(rest)
			}
			return fetched
		}
		if f.fetch(ctx, symbol) {
			fetched++
		}
	}

	f.logger.Info("fetch cycle complete",
		slog.Int("requested", len(batch)),
		slog.Int("fetched", fetched),
	)
	return fetched
}

func (f *Fetcher) fetch(ctx context.Context, symbol string) bool {
	q, err := f.source.FetchQuote(ctx, symbol)
	switch {
	case err == nil:
		f.cache.Update(symbol, q.Price)
		f.metrics.UpstreamFetches.WithLabelValues("fetcher", metrics.FetchOK).Inc()
		return true
	case errors.Is(err, quote.ErrRateLimited):
		f.logger.Warn("upstream rate limited",
			slog.String("symbol", symbol),
		)
		f.metrics.UpstreamFetches.WithLabelValues("fetcher", metrics.FetchRateLimited).Inc()
	case errors.Is(err, quote.ErrNotFound):
		f.logger.Warn("no upstream price for symbol",
			slog.String("symbol", symbol),
		)
		f.metrics.UpstreamFetches.WithLabelValues("fetcher", metrics.FetchNotFound).Inc()
	default:
		f.logger.Error("upstream fetch failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		f.metrics.UpstreamFetches.WithLabelValues("fetcher", metrics.FetchError).Inc()
	}
	f.cache.Fail(symbol)
	return false
}
