package models

import "github.com/shopspring/decimal"

// AmountScale is the number of decimal places balances and entry amounts are
// stored with (NUMERIC(15,2)).
const AmountScale int32 = 2

// MaxAmount is the largest value a NUMERIC(15,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999999.99")

// ValidAmount reports whether d is a positive amount the ledger can store
// without rounding.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() &&
		d.Equal(d.Truncate(AmountScale)) &&
		d.LessThanOrEqual(MaxAmount)
}
