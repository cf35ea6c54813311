package models

import "github.com/shopspring/decimal"

// TransactionType is the kind of ledger event. It decides the sign a
// transaction's quantity carries when applied to a balance.
type TransactionType string

const (
	TransactionBuy        TransactionType = "buy"
	TransactionSell       TransactionType = "sell"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionDividend   TransactionType = "dividend"
	TransactionInterest   TransactionType = "interest"
)

// Transaction is one row of the ledger log.
type Transaction struct {
	ID              string              `json:"id"` // ULID assigned at insert, immutable
	UserEmail       string              `json:"user_email"`
	AccountName     string              `json:"account_name"`
	InstrumentCode  string              `json:"instrument_code"`
	ImportedFileID  *string             `json:"imported_file_id"`
	TransactionDate string              `json:"transaction_date"` // YYYY-MM-DD
	TransactionType TransactionType     `json:"transaction_type"`
	Quantity        decimal.Decimal     `json:"quantity"` // always positive; sign comes from the type
	Price           decimal.NullDecimal `json:"price"`
	TotalAmount     decimal.NullDecimal `json:"total_amount"`
	CurrencyCode    string              `json:"currency_code"`
	Description     *string             `json:"description"`
	CreatedAt       string              `json:"created_at"` // UTC, millisecond precision
}

// TransactionHistoryItem is a transaction enriched for the dashboard feed.
type TransactionHistoryItem struct {
	Transaction
	InstrumentName    string  `json:"instrument_name"`
	InstrumentType    string  `json:"instrument_type"`
	SourceFilename    *string `json:"source_filename"`
	ParentAccountName *string `json:"parent_account_name"`
}

// TransactionInput is the client payload for recording a transaction.
type TransactionInput struct {
	AccountName    string           `json:"accountName"`
	InstrumentCode string           `json:"instrumentCode"`
	Type           string           `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Total          *decimal.Decimal `json:"total,omitempty"`
	Date           string           `json:"date"`
	Currency       string           `json:"currency"`
	Description    string           `json:"description"`
}

// TransactionKey locates an existing transaction. ID is preferred; the
// CreatedAt form is kept for clients that predate surrogate ids.
type TransactionKey struct {
	ID                     string `json:"id"`
	CreatedAt              string `json:"createdAt"`
	OriginalAccountName    string `json:"originalAccountName"`
	OriginalInstrumentCode string `json:"originalInstrumentCode"`
}

// AmendTransactionRequest is the PUT /transactions body.
type AmendTransactionRequest struct {
	TransactionKey
	TransactionInput
}

// TransactionFilter narrows GET /transactions.
type TransactionFilter struct {
	AccountName    string
	InstrumentCode string
	From           string
	To             string
	Limit          int
}
