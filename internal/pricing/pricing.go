// Package pricing computes sale prices from catalog base prices.
// All amounts are minor currency units (cents), so the arithmetic is exact.
package pricing

// The fixed sale markup is 30%. Expressed as a ratio of integers so the
// half-up rounding below stays in integer arithmetic.
const (
	markupNumerator   = 130
	markupDenominator = 100
)

// UnitPrice applies the 30% markup to a base price, rounding half-up to the
// nearest cent.
func UnitPrice(basePrice int64) int64 {
	return (basePrice*markupNumerator + markupDenominator/2) / markupDenominator
}

func LineTotal(unitPrice int64, quantity int32) int64 {
	return unitPrice * int64(quantity)
}

func OrderTotal(lineTotals []int64) int64 {
	var total int64
	for _, lt := range lineTotals {
		total += lt
	}
	return total
}
