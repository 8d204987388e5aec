package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds an owner's simulated cash balance.
type Account struct {
	OwnerID   string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Holding is an owner's position in a single symbol. A holding whose
// quantity reaches zero is removed rather than kept at zero.
type Holding struct {
	OwnerID  string
	Symbol   string
	Quantity decimal.Decimal
}

// Transaction is the append-only record of a fill. Quantity is signed:
// positive for buys, negative for sells.
type Transaction struct {
	TransactionID string
	OwnerID       string
	OrderID       string
	Symbol        string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ExecutedAt    time.Time
}

// Side derives the order side from the signed quantity.
func (t *Transaction) Side() OrderSide {
	if t.Quantity.IsNegative() {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Value returns |quantity| × price.
func (t *Transaction) Value() decimal.Decimal {
	return t.Quantity.Abs().Mul(t.Price)
}
