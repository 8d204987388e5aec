package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/service"
)

// PortfolioHandler handles HTTP requests for portfolio and transaction
// history endpoints.
type PortfolioHandler struct {
	portfolioSvc *service.PortfolioService
}

// NewPortfolioHandler creates a new PortfolioHandler.
func NewPortfolioHandler(portfolioSvc *service.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolioSvc: portfolioSvc}
}

type holdingResponse struct {
	Symbol          string           `json:"symbol"`
	Quantity        decimal.Decimal  `json:"quantity"`
	AverageCost     decimal.Decimal  `json:"average_cost"`
	CostBasis       decimal.Decimal  `json:"cost_basis"`
	CurrentPrice    *decimal.Decimal `json:"current_price"`
	PriceAsOf       *string          `json:"price_as_of"`
	MarketValue     decimal.Decimal  `json:"market_value"`
	GainLoss        decimal.Decimal  `json:"gain_loss"`
	GainLossPercent decimal.Decimal  `json:"gain_loss_percent"`
	Weight          decimal.Decimal  `json:"weight_percent"`
}

type portfolioResponse struct {
	OwnerID         string            `json:"owner_id"`
	Cash            decimal.Decimal   `json:"cash"`
	HoldingsValue   decimal.Decimal   `json:"holdings_value"`
	TotalValue      decimal.Decimal   `json:"total_value"`
	CostBasis       decimal.Decimal   `json:"cost_basis"`
	GainLoss        decimal.Decimal   `json:"gain_loss"`
	GainLossPercent decimal.Decimal   `json:"gain_loss_percent"`
	Holdings        []holdingResponse `json:"holdings"`
	AsOf            string            `json:"as_of"`
}

type transactionResponse struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Value         decimal.Decimal `json:"value"`
	ExecutedAt    string          `json:"executed_at"`
}

type transactionSummaryResponse struct {
	OwnerID       string          `json:"owner_id"`
	Total         int             `json:"total_transactions"`
	Buys          int             `json:"buy_count"`
	Sells         int             `json:"sell_count"`
	Volume        decimal.Decimal `json:"total_volume"`
	BuyVolume     decimal.Decimal `json:"buy_volume"`
	SellVolume    decimal.Decimal `json:"sell_volume"`
	UniqueSymbols int             `json:"unique_symbols"`
	MostTraded    *string         `json:"most_traded_symbol"`
	First         *string         `json:"first_transaction_at"`
	Last          *string         `json:"last_transaction_at"`
}

type transactionPageResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
	Total        int                   `json:"total"`
}

// Summary handles GET /portfolio.
func (h *PortfolioHandler) Summary(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolioSvc.Summary(r.Context(), ownerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := portfolioResponse{
		OwnerID:         p.OwnerID,
		Cash:            p.Cash,
		HoldingsValue:   p.HoldingsValue,
		TotalValue:      p.TotalValue,
		CostBasis:       p.CostBasis,
		GainLoss:        p.GainLoss,
		GainLossPercent: p.GainLossPercent,
		Holdings:        make([]holdingResponse, 0, len(p.Holdings)),
		AsOf:            p.AsOf.Format(time.RFC3339),
	}
	for _, hs := range p.Holdings {
		hr := holdingResponse{
			Symbol:          hs.Symbol,
			Quantity:        hs.Quantity,
			AverageCost:     hs.AverageCost,
			CostBasis:       hs.CostBasis,
			CurrentPrice:    hs.CurrentPrice,
			MarketValue:     hs.MarketValue,
			GainLoss:        hs.GainLoss,
			GainLossPercent: hs.GainLossPercent,
			Weight:          hs.Weight,
			PriceAsOf:       formatTime(hs.PriceAsOf),
		}
		resp.Holdings = append(resp.Holdings, hr)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Transactions handles
// GET /transactions?symbol=&side=&from=&to=&page=&limit=.
func (h *PortfolioHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	q := r.URL.Query()
	result, err := h.portfolioSvc.Transactions(r.Context(), ownerID(r), service.TransactionQuery{
		Symbol: q.Get("symbol"),
		Side:   q.Get("side"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := transactionPageResponse{
		Transactions: make([]transactionResponse, 0, len(result.Transactions)),
		Page:         result.Page,
		Limit:        result.Limit,
		Total:        result.Total,
	}
	for _, tx := range result.Transactions {
		resp.Transactions = append(resp.Transactions, buildTransactionResponse(tx))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// TransactionSummary handles GET /transactions/summary.
func (h *PortfolioHandler) TransactionSummary(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	sum, err := h.portfolioSvc.TransactionSummary(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := transactionSummaryResponse{
		OwnerID:       owner,
		Total:         sum.Total,
		Buys:          sum.Buys,
		Sells:         sum.Sells,
		Volume:        sum.Volume,
		BuyVolume:     sum.BuyVolume,
		SellVolume:    sum.SellVolume,
		UniqueSymbols: sum.UniqueSymbols,
		First:         formatTime(sum.First),
		Last:          formatTime(sum.Last),
	}
	if sum.MostTraded != "" {
		resp.MostTraded = &sum.MostTraded
	}
	WriteJSON(w, http.StatusOK, resp)
}

func buildTransactionResponse(tx *domain.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID: tx.TransactionID,
		OrderID:       tx.OrderID,
		Symbol:        tx.Symbol,
		Side:          string(tx.Side()),
		Quantity:      tx.Quantity,
		Price:         tx.Price,
		Value:         tx.Value(),
		ExecutedAt:    tx.ExecutedAt.UTC().Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ValidationError{Message: key + " must be an integer"}
	}
	return n, nil
}
