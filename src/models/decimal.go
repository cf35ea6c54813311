package models

import "github.com/shopspring/decimal"

func init() {
	// Quantities and prices go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}
