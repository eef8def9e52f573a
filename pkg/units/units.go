// Package units converts between human-entered decimal amounts and ledger base units.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals matches ether/wei.
const DefaultDecimals int32 = 18

var (
	ErrMalformed = errors.New("malformed amount")
	ErrPrecision = errors.New("amount has more precision than the base unit allows")
	ErrNegative  = errors.New("amount must not be negative")
)

// ToBaseUnits parses a decimal string such as "1.25" and scales it by 10^decimals.
func ToBaseUnits(human string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(human))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, human)
	}
	if d.Sign() < 0 {
		return decimal.Zero, ErrNegative
	}
	base := d.Shift(decimals)
	if !base.IsInteger() {
		return decimal.Zero, fmt.Errorf("%w: %s at %d decimals", ErrPrecision, human, decimals)
	}
	return base.Truncate(0), nil
}

// ParseBaseUnits parses an integer amount already expressed in base units.
func ParseBaseUnits(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if d.Sign() < 0 {
		return decimal.Zero, ErrNegative
	}
	if !d.IsInteger() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPrecision, s)
	}
	return d.Truncate(0), nil
}

// FromBaseUnits scales a base-unit amount back down for display.
func FromBaseUnits(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(-decimals)
}

// Format renders a base-unit amount with its symbol, e.g. "1.5 ETH".
func Format(amount decimal.Decimal, decimals int32, symbol string) string {
	s := FromBaseUnits(amount, decimals).String()
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}
