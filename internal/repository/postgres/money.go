package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(14,2) and read back with an explicit
// ::text cast, so they never pass through a float.

func numericToDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func decimalToNumeric(d decimal.Decimal) string {
	return d.StringFixed(2)
}
