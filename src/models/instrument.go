package models

import "github.com/shopspring/decimal"

const CashInstrumentType = "cash"

type InstrumentType struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Instrument struct {
	Code               string  `json:"code"`
	InstrumentTypeCode string  `json:"instrument_type_code"`
	InstrumentTypeName string  `json:"instrument_type_name,omitempty"`
	Name               string  `json:"name"`
	ExternalSymbol     *string `json:"external_symbol"`
	Description        *string `json:"description"`
	CreatedAt          string  `json:"created_at"`
}

// InstrumentInput is the payload for instrument create/update.
type InstrumentInput struct {
	Code               string  `json:"code"`
	InstrumentTypeCode string  `json:"instrumentTypeCode"`
	Name               string  `json:"name"`
	ExternalSymbol     *string `json:"externalSymbol"`
	Description        *string `json:"description"`
}

// InstrumentPrice is one dated price of an instrument.
type InstrumentPrice struct {
	ID             int64           `json:"id"`
	InstrumentCode string          `json:"instrument_code"`
	PriceDate      string          `json:"price_date"`
	Price          decimal.Decimal `json:"price"`
	CurrencyCode   string          `json:"currency_code"`
	AsOf           string          `json:"as_of"`
	CreatedAt      string          `json:"created_at"`
}

// PriceInput is the payload for POST/PUT /prices.
type PriceInput struct {
	ID             int64           `json:"id,omitempty"`
	InstrumentCode string          `json:"instrumentCode"`
	PriceDate      string          `json:"priceDate"`
	Price          decimal.Decimal `json:"price"`
	CurrencyCode   string          `json:"currencyCode"`
	AsOf           string          `json:"asOf,omitempty"`
}

// PriceSyncResult is the outcome of pulling quotes for the catalog.
type PriceSyncResult struct {
	Success bool     `json:"success"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}
