package models

import "github.com/shopspring/decimal"

// Balance is the cached aggregate quantity of one instrument in one account.
type Balance struct {
	UserEmail      string          `json:"user_email"`
	AccountName    string          `json:"account_name"`
	InstrumentCode string          `json:"instrument_code"`
	Quantity       decimal.Decimal `json:"quantity"`
	UpdatedAt      string          `json:"updated_at"`
}

// Holding is a valued position.
type Holding struct {
	AccountName       string              `json:"account_name"`
	ParentAccountName *string             `json:"parent_account_name"`
	InstrumentCode    string              `json:"instrument_code"`
	InstrumentName    string              `json:"instrument_name"`
	InstrumentType    string              `json:"instrument_type"`
	Quantity          decimal.Decimal     `json:"quantity"`
	CurrentPrice      decimal.Decimal     `json:"current_price"`
	PriceDate         *string             `json:"price_date"`
	CurrencyCode      string              `json:"currency_code"`
	Valuation         decimal.Decimal     `json:"valuation"`
	PriceMissing      bool                `json:"price_missing"`
	AveragePrice      decimal.NullDecimal `json:"average_price"`
	FXRateToBase      decimal.NullDecimal `json:"fx_rate_to_base"`
	ValuationBase     decimal.Decimal     `json:"valuation_base"`
	BaseCurrencyCode  string              `json:"base_currency_code"`
	FXMissing         bool                `json:"fx_missing"`
}

// AccountTotals aggregates the holdings of a single account.
type AccountTotals struct {
	AccountName       string                     `json:"account_name"`
	AccountType       string                     `json:"account_type"`
	ParentAccountName *string                    `json:"parent_account_name"`
	TotalValue        map[string]decimal.Decimal `json:"total_value"` // per currency
	TotalValueBase    decimal.Decimal            `json:"total_value_base"`
	BaseCurrencyCode  string                     `json:"base_currency_code"`
	InstrumentsCount  int                        `json:"instruments_count"`
	LastPriceDate     *string                    `json:"last_price_date"`
	FXMissing         bool                       `json:"fx_missing"`
	MissingCurrencies []string                   `json:"missing_currencies,omitempty"`
}

// PortfolioTotals is the per-account breakdown plus the grand total.
type PortfolioTotals struct {
	Accounts         []AccountTotals `json:"accounts"`
	TotalValueBase   decimal.Decimal `json:"total_value_base"`
	BaseCurrencyCode string          `json:"base_currency_code"`
	FXMissing        bool            `json:"fx_missing"`
}

// InstrumentPerformance compares the two most recent prices of an instrument.
type InstrumentPerformance struct {
	InstrumentCode     string              `json:"instrument_code"`
	InstrumentName     string              `json:"instrument_name"`
	CurrencyCode       string              `json:"currency_code"`
	LatestPrice        decimal.Decimal     `json:"latest_price"`
	LatestPriceDate    string              `json:"latest_price_date"`
	PreviousPrice      decimal.NullDecimal `json:"previous_price"`
	PreviousPriceDate  *string             `json:"previous_price_date"`
	PriceChangePercent decimal.Decimal     `json:"price_change_percent"`
}
