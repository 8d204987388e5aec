// Package store persists accounts, holdings, orders and transactions.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
)

// Store is the persistence contract shared by the matcher and the
// services. Every method that mutates more than one record does so
// atomically: on error nothing is changed.
type Store interface {
	// CreateAccount returns domain.ErrAccountExists if the owner already
	// has an account.
	CreateAccount(ctx context.Context, a *domain.Account) error
	// Balance returns domain.ErrAccountNotFound for unknown owners.
	Balance(ctx context.Context, ownerID string) (decimal.Decimal, error)
	// AdjustBalance adds delta (which may be negative) to the balance and
	// returns the new balance. It returns domain.ErrInsufficientBalance
	// instead of going below zero.
	AdjustBalance(ctx context.Context, ownerID string, delta decimal.Decimal) (decimal.Decimal, error)

	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// ListOrders returns an owner's orders newest first. A nil status
	// returns every order.
	ListOrders(ctx context.Context, ownerID string, status *domain.OrderStatus) ([]*domain.Order, error)
	// ActiveOrders returns the active orders of one side, oldest first.
	ActiveOrders(ctx context.Context, side domain.OrderSide) ([]*domain.Order, error)
	// SetOrderStatus moves an order from one status to another only if it
	// is still in from. It returns domain.ErrOrderSettled when the order
	// has already left from.
	SetOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (*domain.Order, error)

	// HoldingQuantity returns zero when the owner holds none of symbol.
	HoldingQuantity(ctx context.Context, ownerID, symbol string) (decimal.Decimal, error)
	// Holdings returns an owner's non-zero holdings ordered by symbol.
	Holdings(ctx context.Context, ownerID string) ([]*domain.Holding, error)

	// ApplyFill executes an active order at price in one atomic unit:
	// cash moves, the holding is created, updated or removed, a
	// transaction is appended and the order becomes filled.
	ApplyFill(ctx context.Context, order *domain.Order, price decimal.Decimal) (*domain.Transaction, error)
	// ExecuteOrder records a new order and fills it at price in the same
	// atomic unit. When the fill is refused nothing is recorded.
	ExecuteOrder(ctx context.Context, order *domain.Order, price decimal.Decimal) (*domain.Transaction, error)
	// Transactions returns an owner's fills matching f newest first with
	// the matching count. Pages are 1-based; a non-positive limit returns
	// every match.
	Transactions(ctx context.Context, ownerID string, f TransactionFilter, page, limit int) ([]*domain.Transaction, int, error)
}

// TransactionFilter narrows a transaction listing. Zero fields match
// everything; From and To are inclusive.
type TransactionFilter struct {
	Symbol string
	Side   domain.OrderSide
	From   time.Time
	To     time.Time
}

func (f TransactionFilter) matches(t *domain.Transaction) bool {
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && t.Side() != f.Side {
		return false
	}
	if !f.From.IsZero() && t.ExecutedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.ExecutedAt.After(f.To) {
		return false
	}
	return true
}

// fillDelta computes the balance and holding changes of filling o at
// price, checked against the current balance and held quantity.
func fillDelta(o *domain.Order, price, balance, held decimal.Decimal) (newBalance, newHeld decimal.Decimal, err error) {
	notional := o.Quantity.Mul(price)
	switch o.Side {
	case domain.OrderSideBuy:
		if balance.LessThan(notional) {
			return balance, held, domain.ErrInsufficientBalance
		}
		return balance.Sub(notional), held.Add(o.Quantity), nil
	case domain.OrderSideSell:
		if held.LessThan(o.Quantity) {
			return balance, held, domain.ErrInsufficientHoldings
		}
		return balance.Add(notional), held.Sub(o.Quantity), nil
	}
	return balance, held, &domain.ValidationError{Message: "side must be buy or sell"}
}

// signedQuantity is the transaction quantity: negative for sells.
func signedQuantity(o *domain.Order) decimal.Decimal {
	if o.Side == domain.OrderSideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

// paginate slices a newest-first list into a 1-based page.
func paginate[T any](all []T, page, limit int) []T {
	if limit <= 0 {
		return all
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
