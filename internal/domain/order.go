package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType distinguishes resting limit orders from market orders, which
// execute immediately at the cached price.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus represents the lifecycle state of an order.
// Transitions are active → filled and active → cancelled only.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusActive, OrderStatusFilled, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order is an order owned by a single account. For market orders
// LimitPrice holds the execution price.
type Order struct {
	OrderID    string
	OwnerID    string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   decimal.Decimal // up to 8 fractional digits
	LimitPrice decimal.Decimal // up to 2 fractional digits
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Notional returns quantity × limit price, the cash that changes hands
// when the order fills.
func (o *Order) Notional() decimal.Decimal {
	return o.Quantity.Mul(o.LimitPrice)
}

// Crosses reports whether a market price satisfies the order's limit:
// buys fill when the limit is at or above the market, sells when it is
// at or below.
func (o *Order) Crosses(market decimal.Decimal) bool {
	if !market.IsPositive() {
		return false
	}
	if o.Side == OrderSideBuy {
		return o.LimitPrice.GreaterThanOrEqual(market)
	}
	return o.LimitPrice.LessThanOrEqual(market)
}

// Clone returns a shallow copy safe to hand out of a store.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
