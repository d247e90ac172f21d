// Package decimal holds the money helpers shared by the parser and processor.
package decimal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// ParseAmount parses a monetary value as written in fiscal documents.
// The authority layout uses a dot separator ("1500.00"); a lone comma is
// accepted as the decimal separator for hand-typed values ("1500,00").
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("empty amount")
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// RoundCents rounds to two decimal places
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}
