package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/efreitasn/papertrade/internal/config"
	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/engine"
	"github.com/efreitasn/papertrade/internal/handler"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/pricecache"
	"github.com/efreitasn/papertrade/internal/quote"
	"github.com/efreitasn/papertrade/internal/service"
	"github.com/efreitasn/papertrade/internal/store"
	"github.com/efreitasn/papertrade/internal/stream"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Store.
	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store",
			slog.String("driver", cfg.DBDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer closeStore()

	// Domain.
	symbols := domain.NewSymbolRegistry(cfg.Symbols...)

	// Prices.
	source := quote.NewYahooSource(cfg.QuoteBaseURL, cfg.QuoteTimeout)
	cache := pricecache.New(cfg.CacheWaitTimeout, logger, m)
	fetcher := pricecache.NewFetcher(cache, source, pricecache.FetcherConfig{
		Interval:  cfg.FetchInterval,
		BatchSize: cfg.FetchBatchSize,
		Spacing:   cfg.FetchSpacing,
	}, logger, m)

	// Streaming.
	registry := stream.NewRegistry()
	hub := stream.NewHub(logger, m)
	broadcaster := stream.NewBroadcaster(registry, source, cache, hub, stream.BroadcasterConfig{
		Interval: cfg.BroadcastInterval,
		Spacing:  cfg.BroadcastSpacing,
	}, logger, m)
	hub.SetHandler(stream.NewSessions(registry, hub, broadcaster, symbols))

	// Matcher notifies open connections and, when configured, a webhook.
	notifiers := engine.Notifiers{stream.NewOwnerNotifier(hub)}
	var webhook *service.WebhookNotifier
	if cfg.WebhookURL != "" {
		webhook = service.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, logger, m)
		notifiers = append(notifiers, webhook)
	}
	matcher := engine.NewMatcher(st, cache, notifiers, engine.Config{
		Interval:     cfg.MatchInterval,
		MaxAge:       cfg.MatchMaxAge,
		MaxStaleness: cfg.MatcherMaxStaleness,
	}, logger, m)

	// Router.
	router := handler.NewRouter(handler.Services{
		Wallet:    service.NewWalletService(st),
		Orders:    service.NewOrderService(st, symbols, cache, notifiers, logger),
		Portfolio: service.NewPortfolioService(st, cache),
		Prices:    service.NewPriceService(cache, symbols),
		Stream:    hub,
		Gatherer:  reg,
		PriceWait: cfg.PriceWaitTimeout,
		Limits: handler.RateLimits{
			Requests: cfg.RateLimitRequests,
			Trades:   cfg.RateLimitTrades,
		},
	}, logger)

	// Start background loops with cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher.Start(ctx)
	matcher.Start(ctx)
	broadcaster.Start(ctx)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("db_driver", cfg.DBDriver),
			slog.Int("symbols", len(cfg.Symbols)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, then stop the loops and let
	// in-flight webhooks finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	if webhook != nil {
		webhook.Wait()
	}

	logger.Info("server stopped")
}

// openStore returns the configured store and a function that releases it.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.DBDriver == "memory" {
		return store.NewMemoryStore(), func() {}, nil
	}
	sqlStore, err := store.OpenSQL(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return sqlStore, func() { _ = sqlStore.Close() }, nil
}
