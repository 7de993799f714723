package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are rounded half away from zero to two fraction digits before
// conversion, so 10.005 becomes 1001 minor units and 10.004 becomes 1000.

// ToMinorUnits converts a major-unit amount to integer minor units.
// RoundAmount rounds to cents, half away from zero. It is the amount the
// provider is charged, so it is also the amount that is stored.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts integer minor units back to a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-2)
}

// FormatAmount renders amount with exactly two fraction digits.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// ParseAmount parses a decimal string such as "49.99".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}
