package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efreitasn/papertrade/internal/service"
)

// Services groups the dependencies the router dispatches to.
type Services struct {
	Wallet    *service.WalletService
	Orders    *service.OrderService
	Portfolio *service.PortfolioService
	Prices    *service.PriceService
	Stream    StreamServer
	Gatherer  prometheus.Gatherer

	// PriceWait bounds how long a request waits on a price fetch. Zero
	// leaves it to the cache's own timeout.
	PriceWait time.Duration
	Limits    RateLimits
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware. Every route except health, metrics
// and stock prices requires an owner and is rate limited per owner.
func NewRouter(svc Services, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	walletH := NewWalletHandler(svc.Wallet)
	orderH := NewOrderHandler(svc.Orders)
	portfolioH := NewPortfolioHandler(svc.Portfolio)
	stockH := NewStockHandler(svc.Prices)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if svc.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	// Stock routes.
	r.Get("/stocks", stockH.List)
	r.With(priceWait(svc.PriceWait)).Get("/stocks/{symbol}/price", stockH.GetPrice)

	r.Group(func(r chi.Router) {
		r.Use(requireOwner)
		r.Use(rateLimit(svc.Limits.Requests))
		trades := rateLimit(svc.Limits.Trades)

		// Account and wallet routes.
		r.Post("/accounts", walletH.CreateAccount)
		r.Get("/wallet/balance", walletH.Balance)
		r.Post("/wallet/deposit", walletH.Deposit)
		r.Post("/wallet/withdraw", walletH.Withdraw)

		// Order routes.
		r.With(trades).Post("/orders", orderH.Create)
		r.With(trades, priceWait(svc.PriceWait)).Post("/orders/market", orderH.ExecuteMarket)
		r.Get("/orders", orderH.List)
		r.Get("/orders/{order_id}", orderH.Get)
		r.With(trades).Delete("/orders/{order_id}", orderH.Cancel)

		// Portfolio routes.
		r.With(priceWait(svc.PriceWait)).Get("/portfolio", portfolioH.Summary)
		r.Get("/transactions", portfolioH.Transactions)
		r.Get("/transactions/summary", portfolioH.TransactionSummary)

		if svc.Stream != nil {
			r.Get("/ws", NewStreamHandler(svc.Stream).Connect)
		}
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code. It
// passes hijacking through so websocket upgrades work behind it.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests that carry a body. If the Content-Type header doesn't start
// with "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) && r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
