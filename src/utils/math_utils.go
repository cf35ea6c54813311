package utils

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentChange returns (latest-previous)/previous*100 rounded to 4 places,
// or zero when previous is zero.
func PercentChange(latest, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return latest.Sub(previous).Div(previous).Mul(hundred).Round(4)
}
