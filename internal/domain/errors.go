package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountExists        = errors.New("account_already_exists")
	ErrAccountNotFound      = errors.New("account_not_found")
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrOrderSettled         = errors.New("order_already_settled")
	ErrInsufficientBalance  = errors.New("insufficient_balance")
	ErrInsufficientHoldings = errors.New("insufficient_holdings")
	ErrSymbolNotFound       = errors.New("symbol_not_found")
	ErrNoPrice              = errors.New("price_unavailable")
	ErrForbidden            = errors.New("forbidden")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
