package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/engine"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/pricecache"
	"github.com/efreitasn/papertrade/internal/service"
	"github.com/efreitasn/papertrade/internal/store"
	"github.com/efreitasn/papertrade/internal/stream"
)

type noSnapshots struct{}

func (noSnapshots) Last(string) (stream.PriceUpdate, bool) { return stream.PriceUpdate{}, false }

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router  http.Handler
	store   *store.MemoryStore
	cache   *pricecache.Cache
	matcher *engine.Matcher
	hub     *stream.Hub
}

func newTestEnv(t *testing.T, symbols ...string) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, symbols...)
}

// newTestEnvWith lets a test adjust the router's services before it is
// built.
func newTestEnvWith(t *testing.T, adjust func(*Services), symbols ...string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	st := store.NewMemoryStore()
	sr := domain.NewSymbolRegistry(symbols...)
	cache := pricecache.New(20*time.Millisecond, logger, m)

	registry := stream.NewRegistry()
	hub := stream.NewHub(logger, m)
	hub.SetHandler(stream.NewSessions(registry, hub, noSnapshots{}, sr))
	matcher := engine.NewMatcher(st, cache, stream.NewOwnerNotifier(hub), engine.DefaultConfig, logger, m)

	svc := Services{
		Wallet:    service.NewWalletService(st),
		Orders:    service.NewOrderService(st, sr, cache, stream.NewOwnerNotifier(hub), logger),
		Portfolio: service.NewPortfolioService(st, cache),
		Prices:    service.NewPriceService(cache, sr),
		Stream:    hub,
		Gatherer:  reg,
	}
	if adjust != nil {
		adjust(&svc)
	}
	router := NewRouter(svc, logger)

	return &testEnv{
		router:  router,
		store:   st,
		cache:   cache,
		matcher: matcher,
		hub:     hub,
	}
}

// do sends a request as owner (empty for anonymous) with an optional JSON body.
func (env *testEnv) do(t *testing.T, owner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, owner, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(OwnerHeader, owner)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", rr.Code, want, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != code {
		t.Errorf("error code = %q, want %q (message %q)", resp.Error, code, resp.Message)
	}
}

func decimalField(t *testing.T, m map[string]any, key string) decimal.Decimal {
	t.Helper()
	s, ok := m[key].(string)
	if !ok {
		t.Fatalf("%s = %v, want decimal string", key, m[key])
	}
	return decimal.RequireFromString(s)
}

// openAccount is a helper that creates an account via the API.
func (env *testEnv) openAccount(t *testing.T, owner string, balance any) {
	t.Helper()
	rr := env.do(t, owner, "POST", "/accounts", map[string]any{"initial_balance": balance})
	expectStatus(t, rr, http.StatusCreated)
}

// placeOrder is a helper that places an order via the API and returns the response.
func (env *testEnv) placeOrder(t *testing.T, owner, side, symbol string, qty, price any) map[string]any {
	t.Helper()
	rr := env.do(t, owner, "POST", "/orders", map[string]any{
		"side":        side,
		"symbol":      symbol,
		"quantity":    qty,
		"limit_price": price,
	})
	expectStatus(t, rr, http.StatusCreated)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp
}

// --- Health and metrics ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "", "GET", "/healthz", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Update("AAPL", decimal.NewFromInt(1))
	env.do(t, "", "GET", "/stocks/AAPL/price", nil)

	rr := env.do(t, "", "GET", "/metrics", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "papertrade_price_cache_reads_total") {
		t.Error("metrics output missing price cache reads")
	}
}

// --- Owner identification ---

func TestOwnerRequired(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/wallet/balance", "/orders", "/portfolio", "/transactions"} {
		rr := env.do(t, "", "GET", path, nil)
		expectError(t, rr, http.StatusUnauthorized, "unauthorized")
	}
	rr := env.do(t, "bad owner!", "GET", "/wallet/balance", nil)
	expectError(t, rr, http.StatusUnauthorized, "unauthorized")
}

// --- Accounts and wallet ---

func TestAccountAndWallet(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")

	rr := env.do(t, "alice", "POST", "/accounts", map[string]any{"initial_balance": 5})
	expectError(t, rr, http.StatusConflict, "account_already_exists")

	rr = env.do(t, "alice", "POST", "/wallet/deposit", map[string]any{"amount": 250.5})
	expectStatus(t, rr, http.StatusOK)
	var bal map[string]any
	decodeJSON(t, rr, &bal)
	if got := decimalField(t, bal, "balance"); !got.Equal(decimal.RequireFromString("1250.5")) {
		t.Errorf("balance after deposit = %s, want 1250.5", got)
	}

	rr = env.do(t, "alice", "POST", "/wallet/withdraw", map[string]any{"amount": "2000"})
	expectError(t, rr, http.StatusUnprocessableEntity, "insufficient_balance")

	rr = env.do(t, "alice", "POST", "/wallet/withdraw", map[string]any{"amount": "0.001"})
	expectError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.do(t, "alice", "GET", "/wallet/balance", nil)
	expectStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &bal)
	if got := decimalField(t, bal, "balance"); !got.Equal(decimal.RequireFromString("1250.5")) {
		t.Errorf("balance = %s, want 1250.5", got)
	}

	rr = env.do(t, "bob", "GET", "/wallet/balance", nil)
	expectError(t, rr, http.StatusNotFound, "account_not_found")
}

func TestCreateAccount_DefaultBalanceWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/accounts", nil)
	req.Header.Set(OwnerHeader, "alice")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusCreated)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if got := decimalField(t, resp, "balance"); !got.Equal(service.DefaultInitialBalance) {
		t.Errorf("balance = %s, want %s", got, service.DefaultInitialBalance)
	}
}

func TestRequestBodyValidation(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")

	rr := env.doRaw(t, "alice", "POST", "/orders", "text/plain", `{"side":"buy"}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")

	rr = env.doRaw(t, "alice", "POST", "/orders", "application/json", `{"side":`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")

	rr = env.doRaw(t, "alice", "POST", "/orders", "application/json", `{"side":"buy","bogus":1}`)
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

// --- Orders ---

func TestOrders_PlaceGetListCancel(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")

	order := env.placeOrder(t, "alice", "buy", "aapl", 10, "50.00")
	if order["status"] != "active" || order["symbol"] != "AAPL" {
		t.Fatalf("order = %v", order)
	}
	if got := decimalField(t, order, "notional"); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("notional = %s, want 500", got)
	}
	id := order["order_id"].(string)

	rr := env.do(t, "alice", "GET", "/orders/"+id, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, "bob", "GET", "/orders/"+id, nil)
	expectError(t, rr, http.StatusForbidden, "forbidden")

	rr = env.do(t, "alice", "GET", "/orders?status=active", nil)
	expectStatus(t, rr, http.StatusOK)
	var list struct {
		Orders []map[string]any `json:"orders"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Orders) != 1 {
		t.Fatalf("got %d active orders, want 1", len(list.Orders))
	}

	rr = env.do(t, "alice", "DELETE", "/orders/"+id+"?side=sell", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.do(t, "alice", "DELETE", "/orders/"+id+"?side=buy", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, "alice", "DELETE", "/orders/"+id+"?side=buy", nil)
	expectError(t, rr, http.StatusConflict, "order_already_settled")

	rr = env.do(t, "alice", "GET", "/orders/missing", nil)
	expectError(t, rr, http.StatusNotFound, "order_not_found")

	rr = env.do(t, "alice", "GET", "/orders?status=bogus", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

func TestOrders_Rejections(t *testing.T) {
	env := newTestEnv(t, "AAPL")
	env.openAccount(t, "alice", "100")

	rr := env.do(t, "alice", "POST", "/orders", map[string]any{
		"side": "buy", "symbol": "AAPL", "quantity": 10, "limit_price": 50,
	})
	expectError(t, rr, http.StatusUnprocessableEntity, "insufficient_balance")

	rr = env.do(t, "alice", "POST", "/orders", map[string]any{
		"side": "sell", "symbol": "AAPL", "quantity": 1, "limit_price": 50,
	})
	expectError(t, rr, http.StatusUnprocessableEntity, "insufficient_holdings")

	rr = env.do(t, "alice", "POST", "/orders", map[string]any{
		"side": "buy", "symbol": "TSLA", "quantity": 1, "limit_price": 1,
	})
	expectError(t, rr, http.StatusNotFound, "symbol_not_found")

	rr = env.do(t, "alice", "POST", "/orders", map[string]any{
		"side": "buy", "symbol": "AAPL", "quantity": "1", "limit_price": "1.999",
	})
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

// --- Matching through the API ---

func TestFillFlow_PortfolioAndTransactions(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")
	buy := env.placeOrder(t, "alice", "buy", "AAPL", "10", "50")

	env.cache.Update("AAPL", decimal.NewFromInt(48))
	report := env.matcher.RunCycle(context.Background())
	if report.Filled != 1 {
		t.Fatalf("report = %+v, want one fill", report)
	}

	rr := env.do(t, "alice", "GET", "/orders/"+buy["order_id"].(string), nil)
	var order map[string]any
	decodeJSON(t, rr, &order)
	if order["status"] != "filled" {
		t.Errorf("status = %v, want filled", order["status"])
	}

	rr = env.do(t, "alice", "GET", "/portfolio", nil)
	expectStatus(t, rr, http.StatusOK)
	var p map[string]any
	decodeJSON(t, rr, &p)
	if got := decimalField(t, p, "cash"); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("cash = %s, want 500", got)
	}
	holdings := p["holdings"].([]any)
	if len(holdings) != 1 {
		t.Fatalf("got %d holdings, want 1", len(holdings))
	}
	h := holdings[0].(map[string]any)
	if got := decimalField(t, h, "quantity"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("quantity = %s, want 10", got)
	}
	if got := decimalField(t, h, "market_value"); !got.Equal(decimal.NewFromInt(480)) {
		t.Errorf("market value = %s, want 480", got)
	}
	if got := decimalField(t, h, "gain_loss"); !got.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("gain/loss = %s, want -20", got)
	}

	rr = env.do(t, "alice", "GET", "/transactions?page=1&limit=10", nil)
	expectStatus(t, rr, http.StatusOK)
	var page struct {
		Transactions []map[string]any `json:"transactions"`
		Total        int              `json:"total"`
	}
	decodeJSON(t, rr, &page)
	if page.Total != 1 || len(page.Transactions) != 1 {
		t.Fatalf("transactions = %+v", page)
	}
	tx := page.Transactions[0]
	if tx["side"] != "buy" || !decimalField(t, tx, "price").Equal(decimal.NewFromInt(50)) {
		t.Errorf("transaction = %v, want buy at 50", tx)
	}

	rr = env.do(t, "alice", "GET", "/transactions?page=x", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")
}

func (env *testEnv) marketOrder(t *testing.T, owner, side, symbol string, qty any) map[string]any {
	t.Helper()
	rr := env.do(t, owner, "POST", "/orders/market", map[string]any{
		"side":     side,
		"symbol":   symbol,
		"quantity": qty,
	})
	expectStatus(t, rr, http.StatusCreated)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp
}

func TestMarketOrder_FillsAtCachedPrice(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")
	env.cache.Update("AAPL", decimal.NewFromInt(48))

	resp := env.marketOrder(t, "alice", "buy", "aapl", "10")
	order := resp["order"].(map[string]any)
	if order["type"] != "market" || order["status"] != "filled" {
		t.Errorf("order = %v, want filled market order", order)
	}
	tx := resp["transaction"].(map[string]any)
	if tx["side"] != "buy" || !decimalField(t, tx, "price").Equal(decimal.NewFromInt(48)) {
		t.Errorf("transaction = %v, want buy at 48", tx)
	}

	rr := env.do(t, "alice", "GET", "/wallet/balance", nil)
	var bal map[string]any
	decodeJSON(t, rr, &bal)
	if got := decimalField(t, bal, "balance"); !got.Equal(decimal.NewFromInt(520)) {
		t.Errorf("balance = %s, want 520", got)
	}

	// Limit orders report their type too.
	limit := env.placeOrder(t, "alice", "sell", "AAPL", "1", "60")
	if limit["type"] != "limit" {
		t.Errorf("limit order type = %v", limit["type"])
	}
}

func TestMarketOrder_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "100")
	env.cache.Update("AAPL", decimal.NewFromInt(50))

	rr := env.do(t, "alice", "POST", "/orders/market", map[string]any{
		"side": "buy", "symbol": "AAPL", "quantity": 3,
	})
	expectError(t, rr, http.StatusUnprocessableEntity, "insufficient_balance")

	rr = env.do(t, "alice", "POST", "/orders/market", map[string]any{
		"side": "buy", "symbol": "MSFT", "quantity": 1,
	})
	expectError(t, rr, http.StatusServiceUnavailable, "price_unavailable")

	rr = env.do(t, "alice", "POST", "/orders/market", map[string]any{
		"side": "buy", "symbol": "AAPL", "quantity": 1, "limit_price": 50,
	})
	expectError(t, rr, http.StatusBadRequest, "invalid_request")

	rr = env.do(t, "alice", "GET", "/orders", nil)
	var list struct {
		Orders []map[string]any `json:"orders"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Orders) != 0 {
		t.Errorf("orders = %v, want none recorded", list.Orders)
	}
}

func TestTransactions_FiltersAndSummary(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")
	env.cache.Update("AAPL", decimal.NewFromInt(10))
	env.cache.Update("MSFT", decimal.NewFromInt(20))
	env.marketOrder(t, "alice", "buy", "AAPL", "2")
	env.marketOrder(t, "alice", "buy", "MSFT", "1")
	env.marketOrder(t, "alice", "sell", "AAPL", "1")

	total := func(query string) int {
		t.Helper()
		rr := env.do(t, "alice", "GET", "/transactions"+query, nil)
		expectStatus(t, rr, http.StatusOK)
		var page struct {
			Total int `json:"total"`
		}
		decodeJSON(t, rr, &page)
		return page.Total
	}
	if got := total(""); got != 3 {
		t.Errorf("unfiltered total = %d, want 3", got)
	}
	if got := total("?symbol=aapl"); got != 2 {
		t.Errorf("AAPL total = %d, want 2", got)
	}
	if got := total("?symbol=AAPL&side=sell"); got != 1 {
		t.Errorf("AAPL sells = %d, want 1", got)
	}
	today := time.Now().UTC().Format(time.DateOnly)
	if got := total("?from=" + today + "&to=" + today); got != 3 {
		t.Errorf("today's total = %d, want 3", got)
	}
	if got := total("?to=2000-01-01"); got != 0 {
		t.Errorf("total before 2000 = %d, want 0", got)
	}

	rr := env.do(t, "alice", "GET", "/transactions?side=hold", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")
	rr = env.do(t, "alice", "GET", "/transactions?from=yesterday", nil)
	expectError(t, rr, http.StatusBadRequest, "validation_error")

	rr = env.do(t, "alice", "GET", "/transactions/summary", nil)
	expectStatus(t, rr, http.StatusOK)
	var sum map[string]any
	decodeJSON(t, rr, &sum)
	if sum["total_transactions"] != float64(3) || sum["buy_count"] != float64(2) || sum["sell_count"] != float64(1) {
		t.Errorf("counts = %v", sum)
	}
	if got := decimalField(t, sum, "total_volume"); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("total volume = %s, want 50", got)
	}
	if sum["most_traded_symbol"] != "AAPL" || sum["unique_symbols"] != float64(2) {
		t.Errorf("symbols = %v", sum)
	}

	rr = env.do(t, "bob", "GET", "/transactions/summary", nil)
	expectError(t, rr, http.StatusNotFound, "account_not_found")
}

// --- Rate limits ---

func TestRateLimit_PerOwner(t *testing.T) {
	env := newTestEnvWith(t, func(s *Services) {
		s.Limits = RateLimits{Requests: 3, Trades: 1}
	})
	env.openAccount(t, "alice", "1000")
	env.placeOrder(t, "alice", "buy", "AAPL", "1", "10")

	rr := env.do(t, "alice", "POST", "/orders", map[string]any{
		"side": "buy", "symbol": "AAPL", "quantity": 1, "limit_price": 10,
	})
	expectError(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// The rejected trade still used up the last general request.
	rr = env.do(t, "alice", "GET", "/wallet/balance", nil)
	expectError(t, rr, http.StatusTooManyRequests, "rate_limited")

	// Other owners and unauthenticated routes are unaffected.
	rr = env.do(t, "bob", "GET", "/wallet/balance", nil)
	expectError(t, rr, http.StatusNotFound, "account_not_found")
	rr = env.do(t, "", "GET", "/healthz", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestRateLimit_ZeroDisables(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "alice", "1000")
	for i := 0; i < 150; i++ {
		rr := env.do(t, "alice", "GET", "/wallet/balance", nil)
		expectStatus(t, rr, http.StatusOK)
	}
}

func TestOwnerLimiter_RefillAndSweep(t *testing.T) {
	clock := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	l := newOwnerLimiter(2)
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if ok, _ := l.reserve("alice"); !ok {
			t.Fatalf("request %d refused within burst", i+1)
		}
	}
	ok, retry := l.reserve("alice")
	if ok || retry < 29*time.Second || retry > 31*time.Second {
		t.Fatalf("third request = %v, retry %v; want refused, about 30s", ok, retry)
	}

	clock = clock.Add(31 * time.Second)
	if ok, _ := l.reserve("alice"); !ok {
		t.Fatal("request refused after refill")
	}

	clock = clock.Add(2 * time.Minute)
	if ok, _ := l.reserve("bob"); !ok {
		t.Fatal("bob refused")
	}
	if got := l.size(); got != 1 {
		t.Errorf("tracked owners = %d, want 1 after idle sweep", got)
	}
}

// --- Price wait ---

func TestPriceWait_RespondsBeforeWriteTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Nothing ever fetches, so a reader would block for the full 5s.
	slow := pricecache.New(5*time.Second, logger, metrics.New(prometheus.NewRegistry()))
	env := newTestEnvWith(t, func(s *Services) {
		s.Prices = service.NewPriceService(slow, domain.NewSymbolRegistry())
		s.PriceWait = 100 * time.Millisecond
	})

	srv := httptest.NewUnstartedServer(env.router)
	srv.Config.WriteTimeout = 500 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stocks/AAPL/price")
	if err != nil {
		t.Fatalf("request failed instead of answering: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "price_unavailable" {
		t.Errorf("error = %q, want price_unavailable", body.Error)
	}
}

// --- Stocks ---

func TestStockPrice(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Update("AAPL", decimal.RequireFromString("187.44"))

	rr := env.do(t, "", "GET", "/stocks/aapl/price", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["symbol"] != "AAPL" || resp["stale"] != false {
		t.Errorf("price = %v", resp)
	}
	if got := decimalField(t, resp, "price"); !got.Equal(decimal.RequireFromString("187.44")) {
		t.Errorf("price = %s, want 187.44", got)
	}

	rr = env.do(t, "", "GET", "/stocks/MSFT/price", nil)
	expectError(t, rr, http.StatusServiceUnavailable, "price_unavailable")

	rr = env.do(t, "", "GET", "/stocks", nil)
	expectStatus(t, rr, http.StatusOK)
	var list struct {
		Prices []map[string]any `json:"prices"`
	}
	decodeJSON(t, rr, &list)
	if len(list.Prices) != 1 || list.Prices[0]["symbol"] != "AAPL" {
		t.Errorf("prices = %v, want AAPL only", list.Prices)
	}
}

// --- Stream ---

func TestStream_OwnerReceivesFill(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	env.openAccount(t, "alice", "1000")
	env.placeOrder(t, "alice", "buy", "AAPL", "1", "50")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(OwnerHeader, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Connections() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(time.Millisecond)
	}

	env.cache.Update("AAPL", decimal.NewFromInt(49))
	env.matcher.RunCycle(context.Background())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != stream.EventOrderFilled || ev.Data["status"] != "filled" {
		t.Errorf("event = %+v, want order_filled", ev)
	}
}

func TestStream_RequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial without owner to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}
