package services

import (
	"context"
	"errors"

	"github.com/username/carteira/src/models"
)

// Common service errors. Validation failures wrap validation.ErrValidationFailed instead.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrParsingFailed      = errors.New("file parsing failed")
)

// LedgerService keeps the transaction log and the balance table consistent.
// Every mutation runs in one database transaction.
type LedgerService interface {
	Record(ctx context.Context, userEmail string, in models.TransactionInput) (*models.Transaction, error)
	Amend(ctx context.Context, userEmail string, key models.TransactionKey, in models.TransactionInput) (*models.Transaction, error)
	Remove(ctx context.Context, userEmail string, key models.TransactionKey) (*models.Transaction, error)
	List(ctx context.Context, userEmail string, filter models.TransactionFilter) ([]models.Transaction, error)
	History(ctx context.Context, userEmail string, filter models.TransactionFilter) ([]models.TransactionHistoryItem, error)

	// RecordImported records a row that came from an uploaded file.
	RecordImported(ctx context.Context, userEmail, fileID string, in models.TransactionInput) (*models.Transaction, error)
	// RemoveImported removes everything previously recorded from fileID.
	RemoveImported(ctx context.Context, userEmail, fileID string) (int, error)

	// RemoveHolding deletes a balance row without touching the log. It is an
	// administrative repair tool and deliberately breaks the ledger invariant.
	RemoveHolding(ctx context.Context, userEmail, accountName, instrumentCode string) error
	// Rebuild recomputes every balance of the user from the log.
	Rebuild(ctx context.Context, userEmail string) (int, error)
}

// ValuationService derives read-only views from balances and prices.
type ValuationService interface {
	Holdings(ctx context.Context, userEmail, accountName string) ([]models.Holding, error)
	PortfolioTotals(ctx context.Context, userEmail string) (*models.PortfolioTotals, error)
	Performance(ctx context.Context, instrumentCode string) ([]models.InstrumentPerformance, error)
}

// PriceService is the price store plus the market-data sync.
type PriceService interface {
	Upsert(ctx context.Context, in models.PriceInput) (*models.InstrumentPrice, error)
	Update(ctx context.Context, in models.PriceInput) (*models.InstrumentPrice, error)
	Delete(ctx context.Context, id int64) error
	RecentHistory(ctx context.Context, perInstrument int) ([]models.InstrumentPrice, error)
	Sync(ctx context.Context) (*models.PriceSyncResult, error)
}

// CatalogService maintains instrument types and instruments.
type CatalogService interface {
	ListTypes(ctx context.Context) ([]models.InstrumentType, error)
	UpsertType(ctx context.Context, t models.InstrumentType) (*models.InstrumentType, error)
	UpdateType(ctx context.Context, t models.InstrumentType) (*models.InstrumentType, error)
	DeleteType(ctx context.Context, code string) error

	ListInstruments(ctx context.Context, typeCode string) ([]models.Instrument, error)
	GetInstrument(ctx context.Context, code string) (*models.Instrument, error)
	UpsertInstrument(ctx context.Context, in models.InstrumentInput) (*models.Instrument, error)
	UpdateInstrument(ctx context.Context, in models.InstrumentInput) (*models.Instrument, error)
	DeleteInstrument(ctx context.Context, code string) error
}

// AccountService owns users and their accounts.
type AccountService interface {
	Register(ctx context.Context, email, name, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetUser(ctx context.Context, email string) (*models.User, error)

	ListAccounts(ctx context.Context, userEmail string) ([]models.Account, error)
	UpsertAccount(ctx context.Context, userEmail string, in models.AccountInput) (*models.Account, error)
	UpdateAccount(ctx context.Context, userEmail string, in models.AccountInput) (*models.Account, error)
	DeleteAccount(ctx context.Context, userEmail, name string) (*models.AccountDeletion, error)
}

// ImportService runs the two-phase spreadsheet import.
type ImportService interface {
	Upload(ctx context.Context, userEmail, filename, contentType string, content []byte) (*models.UploadResult, error)
	Process(ctx context.Context, userEmail, fileID string, buffer []byte) (*models.ImportResult, error)
	ListFiles(ctx context.Context, userEmail string) ([]models.ImportedFile, error)
}
