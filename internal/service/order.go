package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/engine"
	"github.com/efreitasn/papertrade/internal/store"
)

// CreateOrderRequest represents the input for order placement. Quantity
// and LimitPrice are decimal strings so no precision is lost on the way in.
type CreateOrderRequest struct {
	OwnerID    string
	Side       domain.OrderSide
	Symbol     string
	Quantity   string
	LimitPrice string
}

// MarketOrderRequest is the input for immediate execution at the current
// price.
type MarketOrderRequest struct {
	OwnerID  string
	Side     domain.OrderSide
	Symbol   string
	Quantity string
}

// OrderService handles order placement, cancellation and listing. Limit
// orders rest as active until the matcher fills or cancels them; market
// orders fill on the spot.
type OrderService struct {
	store    store.Store
	symbols  *domain.SymbolRegistry
	prices   engine.PriceReader
	notifier engine.Notifier
	logger   *slog.Logger
}

// NewOrderService creates a new OrderService. notifier receives market
// fills and may be nil.
func NewOrderService(st store.Store, symbols *domain.SymbolRegistry, prices engine.PriceReader, notifier engine.Notifier, logger *slog.Logger) *OrderService {
	if notifier == nil {
		notifier = engine.Notifiers{}
	}
	return &OrderService{
		store:    st,
		symbols:  symbols,
		prices:   prices,
		notifier: notifier,
		logger:   logger,
	}
}

// Create validates the request, checks the owner can cover the order right
// now, and persists it as active. The check is repeated at fill time.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	symbol, qty, err := s.validate(req.Side, req.Symbol, req.Quantity)
	if err != nil {
		return nil, err
	}
	limit, err := domain.ParsePrice(req.LimitPrice)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &domain.Order{
		OrderID:    uuid.New().String(),
		OwnerID:    req.OwnerID,
		Symbol:     symbol,
		Side:       req.Side,
		Type:       domain.OrderTypeLimit,
		Quantity:   qty,
		LimitPrice: limit,
		Status:     domain.OrderStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.precheck(ctx, o); err != nil {
		return nil, err
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info("order placed",
		slog.String("order_id", o.OrderID),
		slog.String("owner_id", o.OwnerID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("quantity", o.Quantity.String()),
		slog.String("limit_price", o.LimitPrice.String()),
	)
	return o, nil
}

// ExecuteMarket fills an order at once at the cached price rounded to
// cents. A price older than PriceFreshness after the refresh attempt is
// refused with domain.ErrNoPrice rather than traded on.
func (s *OrderService) ExecuteMarket(ctx context.Context, req MarketOrderRequest) (*domain.Order, *domain.Transaction, error) {
	symbol, qty, err := s.validate(req.Side, req.Symbol, req.Quantity)
	if err != nil {
		return nil, nil, err
	}

	e, ok := s.prices.Read(ctx, symbol, PriceFreshness)
	if !ok {
		return nil, nil, domain.ErrNoPrice
	}
	now := time.Now().UTC()
	if age := e.Age(now); age > PriceFreshness {
		return nil, nil, fmt.Errorf("%w: last price for %s is %s old", domain.ErrNoPrice, symbol, age.Round(time.Second))
	}
	price := e.Price.Round(domain.PricePlaces)
	if !price.IsPositive() {
		return nil, nil, domain.ErrNoPrice
	}

	o := &domain.Order{
		OrderID:    uuid.New().String(),
		OwnerID:    req.OwnerID,
		Symbol:     symbol,
		Side:       req.Side,
		Type:       domain.OrderTypeMarket,
		Quantity:   qty,
		LimitPrice: price,
		Status:     domain.OrderStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.precheck(ctx, o); err != nil {
		return nil, nil, err
	}
	tx, err := s.store.ExecuteOrder(ctx, o, price)
	if err != nil {
		return nil, nil, err
	}
	o.Status = domain.OrderStatusFilled
	o.UpdatedAt = tx.ExecutedAt

	s.logger.Info("market order executed",
		slog.String("order_id", o.OrderID),
		slog.String("owner_id", o.OwnerID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("quantity", o.Quantity.String()),
		slog.String("price", price.String()),
	)
	s.notifier.OrderFilled(o, tx)
	return o, tx, nil
}

func (s *OrderService) validate(side domain.OrderSide, rawSymbol, rawQty string) (string, decimal.Decimal, error) {
	if !side.Valid() {
		return "", decimal.Zero, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	symbol, err := domain.NormalizeSymbol(rawSymbol)
	if err != nil {
		return "", decimal.Zero, err
	}
	if !s.symbols.Allows(symbol) {
		return "", decimal.Zero, domain.ErrSymbolNotFound
	}
	qty, err := domain.ParseQuantity(rawQty)
	if err != nil {
		return "", decimal.Zero, err
	}
	return symbol, qty, nil
}

func (s *OrderService) precheck(ctx context.Context, o *domain.Order) error {
	if o.Side == domain.OrderSideBuy {
		balance, err := s.store.Balance(ctx, o.OwnerID)
		if err != nil {
			return err
		}
		if balance.LessThan(o.Notional()) {
			return fmt.Errorf("%w: required %s, available %s",
				domain.ErrInsufficientBalance, o.Notional().StringFixed(2), balance.StringFixed(2))
		}
		return nil
	}

	if _, err := s.store.Balance(ctx, o.OwnerID); err != nil {
		return err
	}
	held, err := s.store.HoldingQuantity(ctx, o.OwnerID, o.Symbol)
	if err != nil {
		return err
	}
	if held.LessThan(o.Quantity) {
		return fmt.Errorf("%w: own %s, selling %s",
			domain.ErrInsufficientHoldings, held.String(), o.Quantity.String())
	}
	return nil
}

// Get returns one of the owner's orders.
func (s *OrderService) Get(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return o, nil
}

// List returns the owner's orders newest first, optionally filtered by
// status. An empty status returns every order.
func (s *OrderService) List(ctx context.Context, ownerID, status string) ([]*domain.Order, error) {
	var filter *domain.OrderStatus
	if status != "" {
		st := domain.OrderStatus(status)
		if !st.Valid() {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("Unknown status: %s. Must be one of: active, filled, cancelled", status),
			}
		}
		filter = &st
	}
	return s.store.ListOrders(ctx, ownerID, filter)
}

// Cancel moves an active order to cancelled. side is optional; when set
// it must match the order. Cancelling an order the matcher has already
// settled returns domain.ErrOrderSettled.
func (s *OrderService) Cancel(ctx context.Context, ownerID, orderID string, side domain.OrderSide) (*domain.Order, error) {
	if side != "" && !side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}

	o, err := s.Get(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	if side != "" && o.Side != side {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("order %s is a %s order", orderID, o.Side),
		}
	}

	cancelled, err := s.store.SetOrderStatus(ctx, orderID, domain.OrderStatusActive, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled",
		slog.String("order_id", orderID),
		slog.String("owner_id", ownerID),
	)
	return cancelled, nil
}
