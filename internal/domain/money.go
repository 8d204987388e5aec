package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// QuantityPlaces is the number of fractional digits a quantity may carry.
	QuantityPlaces int32 = 8
	// PricePlaces is the number of fractional digits a price or cash amount may carry.
	PricePlaces int32 = 2
	// IntegerDigits caps the digits before the decimal point of any input.
	IntegerDigits = 18
)

// ParseQuantity parses and validates a positive share quantity with at
// most QuantityPlaces fractional digits.
func ParseQuantity(s string) (decimal.Decimal, error) {
	return parsePositive("quantity", s, QuantityPlaces)
}

// ParsePrice parses and validates a positive price with at most
// PricePlaces fractional digits.
func ParsePrice(s string) (decimal.Decimal, error) {
	return parsePositive("limit_price", s, PricePlaces)
}

// ParseAmount parses and validates a positive cash amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	return parsePositive("amount", s, PricePlaces)
}

// CheckPlaces returns an error if d has more than places fractional
// digits. Excess precision is rejected rather than rounded.
func CheckPlaces(field string, d decimal.Decimal, places int32) error {
	if !d.Equal(d.Truncate(places)) {
		return &ValidationError{Message: fmt.Sprintf("%s must have at most %d decimal places", field, places)}
	}
	return nil
}

// ParseDecimal parses a plain decimal literal. Exponent forms are rejected
// and the integer part may have at most IntegerDigits digits.
func ParseDecimal(field, s string) (decimal.Decimal, error) {
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, &ValidationError{Message: field + " must be a plain decimal number"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Message: field + " must be a decimal number"}
	}
	if len(d.Abs().Truncate(0).String()) > IntegerDigits {
		return decimal.Zero, &ValidationError{
			Message: fmt.Sprintf("%s must have at most %d integer digits", field, IntegerDigits),
		}
	}
	return d, nil
}

func parsePositive(field, s string, places int32) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, &ValidationError{Message: field + " is required"}
	}
	d, err := ParseDecimal(field, s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, &ValidationError{Message: field + " must be greater than 0"}
	}
	if err := CheckPlaces(field, d, places); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
