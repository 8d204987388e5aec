package service

import (
	"context"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/store"
)

var ownerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// DefaultInitialBalance is credited to accounts opened without an explicit
// balance.
var DefaultInitialBalance = decimal.NewFromInt(10000)

// ValidateOwnerID checks the format of an owner identifier.
func ValidateOwnerID(ownerID string) error {
	if !ownerIDRegex.MatchString(ownerID) {
		return &domain.ValidationError{Message: "owner_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return nil
}

// WalletService handles account creation and cash movements.
type WalletService struct {
	store store.Store
}

// NewWalletService creates a new WalletService.
func NewWalletService(st store.Store) *WalletService {
	return &WalletService{store: st}
}

// CreateAccount opens an account for ownerID. An empty initialBalance uses
// DefaultInitialBalance; zero is allowed.
func (s *WalletService) CreateAccount(ctx context.Context, ownerID, initialBalance string) (*domain.Account, error) {
	if err := ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}

	balance := DefaultInitialBalance
	if initialBalance != "" {
		d, err := domain.ParseDecimal("initial_balance", initialBalance)
		if err != nil {
			return nil, err
		}
		if d.IsNegative() {
			return nil, &domain.ValidationError{Message: "initial_balance must not be negative"}
		}
		if err := domain.CheckPlaces("initial_balance", d, domain.PricePlaces); err != nil {
			return nil, err
		}
		balance = d
	}

	a := &domain.Account{
		OwnerID:   ownerID,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Balance returns the owner's cash balance.
func (s *WalletService) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	return s.store.Balance(ctx, ownerID)
}

// Deposit credits amount and returns the new balance.
func (s *WalletService) Deposit(ctx context.Context, ownerID, amount string) (decimal.Decimal, error) {
	d, err := domain.ParseAmount(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return s.store.AdjustBalance(ctx, ownerID, d)
}

// Withdraw debits amount and returns the new balance. The balance never
// goes below zero.
func (s *WalletService) Withdraw(ctx context.Context, ownerID, amount string) (decimal.Decimal, error) {
	d, err := domain.ParseAmount(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return s.store.AdjustBalance(ctx, ownerID, d.Neg())
}
