package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// createOrderRequest is the JSON request body for POST /orders.
type createOrderRequest struct {
	Side       string  `json:"side"`
	Symbol     string  `json:"symbol"`
	Quantity   numeric `json:"quantity"`
	LimitPrice numeric `json:"limit_price"`
}

// marketOrderRequest is the JSON request body for POST /orders/market.
type marketOrderRequest struct {
	Side     string  `json:"side"`
	Symbol   string  `json:"symbol"`
	Quantity numeric `json:"quantity"`
}

// orderResponse is the JSON representation of an order.
type orderResponse struct {
	OrderID    string          `json:"order_id"`
	OwnerID    string          `json:"owner_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Type       string          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Notional   decimal.Decimal `json:"notional"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type marketOrderResponse struct {
	Order       orderResponse       `json:"order"`
	Transaction transactionResponse `json:"transaction"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
}

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	o, err := h.orderSvc.Create(r.Context(), service.CreateOrderRequest{
		OwnerID:    ownerID(r),
		Side:       domain.OrderSide(req.Side),
		Symbol:     req.Symbol,
		Quantity:   string(req.Quantity),
		LimitPrice: string(req.LimitPrice),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(o))
}

// ExecuteMarket handles POST /orders/market.
func (h *OrderHandler) ExecuteMarket(w http.ResponseWriter, r *http.Request) {
	var req marketOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	o, tx, err := h.orderSvc.ExecuteMarket(r.Context(), service.MarketOrderRequest{
		OwnerID:  ownerID(r),
		Side:     domain.OrderSide(req.Side),
		Symbol:   req.Symbol,
		Quantity: string(req.Quantity),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, marketOrderResponse{
		Order:       buildOrderResponse(o),
		Transaction: buildTransactionResponse(tx),
	})
}

// List handles GET /orders?status=.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderSvc.List(r.Context(), ownerID(r), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := orderListResponse{Orders: make([]orderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, buildOrderResponse(o))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /orders/{order_id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderSvc.Get(r.Context(), ownerID(r), chi.URLParam(r, "order_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(o))
}

// Cancel handles DELETE /orders/{order_id}?side=buy|sell.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	side := domain.OrderSide(r.URL.Query().Get("side"))
	o, err := h.orderSvc.Cancel(r.Context(), ownerID(r), chi.URLParam(r, "order_id"), side)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(o))
}

func buildOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		OrderID:    o.OrderID,
		OwnerID:    o.OwnerID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(o.Type),
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
		Notional:   o.Notional(),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
