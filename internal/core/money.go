// Package core holds the ledger domain: accounts, transactions, recurring
// rules, monetary helpers and the invariants that tie them together.
package core

import (
	"github.com/shopspring/decimal"
)

// Tolerance is the maximum absolute difference at which two monetary
// amounts are considered equal. Balances are stored with full decimal
// precision; the tolerance only guards aggregate comparisons.
var Tolerance = decimal.New(1, -2) // 0.01

// EqualWithin reports whether a and b differ by at most Tolerance.
func EqualWithin(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// ClampZero returns d, floored at zero.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseAmount parses a stored monetary amount. Empty strings decode to zero
// so that nullable columns round-trip cleanly.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
