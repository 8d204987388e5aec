package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/service"
)

// StockHandler handles HTTP requests for stock price endpoints.
type StockHandler struct {
	priceSvc *service.PriceService
}

// NewStockHandler creates a new StockHandler.
func NewStockHandler(priceSvc *service.PriceService) *StockHandler {
	return &StockHandler{priceSvc: priceSvc}
}

type priceResponse struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	UpdatedAt  string          `json:"updated_at"`
	AgeSeconds int64           `json:"age_seconds"`
	Stale      bool            `json:"stale"`
}

type cachedPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt string          `json:"updated_at"`
}

type stockListResponse struct {
	Symbols []string      `json:"symbols"`
	Prices  []cachedPrice `json:"prices"`
}

// List handles GET /stocks: the configured symbols and every cached price.
func (h *StockHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.priceSvc.Cached()
	resp := stockListResponse{
		Symbols: h.priceSvc.Symbols(),
		Prices:  make([]cachedPrice, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Prices = append(resp.Prices, cachedPrice{
			Symbol:    e.Symbol,
			Price:     e.Price,
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetPrice handles GET /stocks/{symbol}/price.
func (h *StockHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	v, err := h.priceSvc.Current(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, priceResponse{
		Symbol:     v.Symbol,
		Price:      v.Price.Price,
		UpdatedAt:  v.Price.UpdatedAt.UTC().Format(time.RFC3339),
		AgeSeconds: int64(v.Price.Age(v.CheckedAt) / time.Second),
		Stale:      v.Stale,
	})
}
