// Package money holds the pure monetary arithmetic for refunds. It performs
// no I/O and no bounds checking; callers validate inputs before use. Values
// are kept at full computed precision, rounding is a display concern.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// LineTotal returns quantity*price minus discountPercent of that gross amount.
func LineTotal(quantity, price, discountPercent decimal.Decimal) decimal.Decimal {
	gross := quantity.Mul(price)
	return gross.Sub(discountPercent.Div(hundred).Mul(gross))
}

// Aggregate sums the given line totals and subtracts the header-level
// discount from that sum to produce the grand total.
func Aggregate(lineTotals []decimal.Decimal, headerDiscount decimal.Decimal) (total, grandTotal decimal.Decimal) {
	total = decimal.Zero
	for _, lineTotal := range lineTotals {
		total = total.Add(lineTotal)
	}
	return total, total.Sub(headerDiscount)
}
