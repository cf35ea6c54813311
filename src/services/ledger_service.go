package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/processors"
	"github.com/username/carteira/src/security/validation"
)

const (
	DefaultTransactionLimit = 100
	DefaultHistoryLimit     = 50
	MaxTransactionLimit     = 500
)

type ledgerServiceImpl struct {
	db        *sql.DB
	processor *processors.TransactionProcessor
}

func NewLedgerService(db *sql.DB, processor *processors.TransactionProcessor) LedgerService {
	return &ledgerServiceImpl{db: db, processor: processor}
}

func (s *ledgerServiceImpl) Record(ctx context.Context, userEmail string, in models.TransactionInput) (*models.Transaction, error) {
	return s.record(ctx, userEmail, nil, in)
}

func (s *ledgerServiceImpl) RecordImported(ctx context.Context, userEmail, fileID string, in models.TransactionInput) (*models.Transaction, error) {
	return s.record(ctx, userEmail, &fileID, in)
}

func (s *ledgerServiceImpl) record(ctx context.Context, userEmail string, fileID *string, in models.TransactionInput) (*models.Transaction, error) {
	t, err := s.processor.Normalize(in)
	if err != nil {
		return nil, err
	}
	t.ID = ulid.Make().String()
	t.UserEmail = userEmail
	t.ImportedFileID = fileID
	t.CreatedAt = model.NowTimestamp()

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireInstrument(ctx, tx, t.InstrumentCode); err != nil {
			return err
		}
		if err := model.EnsureAccount(ctx, tx, userEmail, t.AccountName, model.DefaultAccountType); err != nil {
			return fmt.Errorf("failed to ensure account: %w", err)
		}
		if err := recordTransactionPrice(ctx, tx, t); err != nil {
			return err
		}
		if err := model.InsertTransaction(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		delta := processors.SignedQuantity(t.TransactionType, t.Quantity)
		if err := model.ApplyBalanceDelta(ctx, tx, userEmail, t.AccountName, t.InstrumentCode, delta); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Transaction recorded",
		"transactionID", t.ID, "account", t.AccountName, "instrument", t.InstrumentCode,
		"type", t.TransactionType, "quantity", t.Quantity.String())
	return t, nil
}

// Amend replaces a transaction. The old effect is rolled back and the new one
// applied in the same database transaction; when the (account, instrument)
// key changes, the rollback and the apply hit different balance rows.
func (s *ledgerServiceImpl) Amend(ctx context.Context, userEmail string, key models.TransactionKey, in models.TransactionInput) (*models.Transaction, error) {
	t, err := s.processor.Normalize(in)
	if err != nil {
		return nil, err
	}
	if err := validateKey(key, t.AccountName, t.InstrumentCode); err != nil {
		return nil, err
	}

	var old *models.Transaction
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		old, err = locateTransaction(ctx, tx, userEmail, key, t.AccountName, t.InstrumentCode)
		if err != nil {
			return err
		}
		if err := requireInstrument(ctx, tx, t.InstrumentCode); err != nil {
			return err
		}
		if err := model.EnsureAccount(ctx, tx, userEmail, t.AccountName, model.DefaultAccountType); err != nil {
			return fmt.Errorf("failed to ensure account: %w", err)
		}
		if err := recordTransactionPrice(ctx, tx, t); err != nil {
			return err
		}

		rollback := processors.SignedQuantity(old.TransactionType, old.Quantity).Neg()
		apply := processors.SignedQuantity(t.TransactionType, t.Quantity)
		if old.AccountName == t.AccountName && old.InstrumentCode == t.InstrumentCode {
			if err := model.ApplyBalanceDelta(ctx, tx, userEmail, t.AccountName, t.InstrumentCode, rollback.Add(apply)); err != nil {
				return fmt.Errorf("failed to update balance: %w", err)
			}
		} else {
			if err := model.ApplyBalanceDelta(ctx, tx, userEmail, old.AccountName, old.InstrumentCode, rollback); err != nil {
				return fmt.Errorf("failed to roll back previous balance: %w", err)
			}
			if err := model.ApplyBalanceDelta(ctx, tx, userEmail, t.AccountName, t.InstrumentCode, apply); err != nil {
				return fmt.Errorf("failed to update balance: %w", err)
			}
		}

		t.ID = old.ID
		t.UserEmail = userEmail
		t.ImportedFileID = old.ImportedFileID
		t.CreatedAt = old.CreatedAt
		if _, err := model.UpdateTransaction(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Transaction amended",
		"transactionID", t.ID,
		"oldKey", old.AccountName+"/"+old.InstrumentCode, "newKey", t.AccountName+"/"+t.InstrumentCode,
		"oldQuantity", old.Quantity.String(), "newQuantity", t.Quantity.String())
	return t, nil
}

// Remove deletes a transaction and rolls back its effect on the balance. A
// missing balance row is recreated holding just the rollback.
func (s *ledgerServiceImpl) Remove(ctx context.Context, userEmail string, key models.TransactionKey) (*models.Transaction, error) {
	if err := validateKey(key, "", ""); err != nil {
		return nil, err
	}

	var removed *models.Transaction
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		removed, err = locateTransaction(ctx, tx, userEmail, key, "", "")
		if err != nil {
			return err
		}
		return removeTransaction(ctx, tx, removed)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Transaction removed",
		"transactionID", removed.ID, "account", removed.AccountName, "instrument", removed.InstrumentCode)
	return removed, nil
}

// RemoveImported removes every transaction recorded from fileID.
func (s *ledgerServiceImpl) RemoveImported(ctx context.Context, userEmail, fileID string) (int, error) {
	removed := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		txs, err := model.ListTransactionsByImportedFile(ctx, tx, userEmail, fileID)
		if err != nil {
			return fmt.Errorf("failed to list imported transactions: %w", err)
		}
		for i := range txs {
			if err := removeTransaction(ctx, tx, &txs[i]); err != nil {
				return err
			}
		}
		removed = len(txs)
		return nil
	})
	return removed, err
}

func removeTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	if _, err := model.DeleteTransaction(ctx, tx, t.UserEmail, t.ID); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	rollback := processors.SignedQuantity(t.TransactionType, t.Quantity).Neg()
	if err := model.ApplyBalanceDelta(ctx, tx, t.UserEmail, t.AccountName, t.InstrumentCode, rollback); err != nil {
		return fmt.Errorf("failed to roll back balance: %w", err)
	}
	return nil
}

func (s *ledgerServiceImpl) RemoveHolding(ctx context.Context, userEmail, accountName, instrumentCode string) error {
	accountName = validation.SanitizeName(accountName)
	instrumentCode = strings.TrimSpace(instrumentCode)
	if accountName == "" || instrumentCode == "" {
		return fmt.Errorf("%w: accountName and instrumentCode are required", validation.ErrValidationFailed)
	}
	n, err := model.DeleteBalance(ctx, s.db, userEmail, accountName, instrumentCode)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no holding of '%s' in account '%s'", ErrNotFound, instrumentCode, accountName)
	}
	logger.FromContext(ctx).Warn("Holding removed without touching the transaction log; balance no longer matches the ledger",
		"account", accountName, "instrument", instrumentCode)
	return nil
}

// Rebuild replaces every balance row of the user with the sum of the signed
// quantities of its transactions.
func (s *ledgerServiceImpl) Rebuild(ctx context.Context, userEmail string) (int, error) {
	var count int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		txs, err := model.ListUserTransactionsForReplay(ctx, tx, userEmail)
		if err != nil {
			return fmt.Errorf("failed to load transactions: %w", err)
		}
		sums := make(map[string]*models.Balance)
		var order []string
		for _, t := range txs {
			k := model.PositionKey(t.AccountName, t.InstrumentCode)
			b, ok := sums[k]
			if !ok {
				b = &models.Balance{UserEmail: userEmail, AccountName: t.AccountName, InstrumentCode: t.InstrumentCode, Quantity: decimal.Zero}
				sums[k] = b
				order = append(order, k)
			}
			b.Quantity = b.Quantity.Add(processors.SignedQuantity(t.TransactionType, t.Quantity))
		}
		if err := model.DeleteUserBalances(ctx, tx, userEmail); err != nil {
			return fmt.Errorf("failed to clear balances: %w", err)
		}
		for _, k := range order {
			if err := model.SetBalance(ctx, tx, *sums[k]); err != nil {
				return fmt.Errorf("failed to write balance: %w", err)
			}
		}
		count = len(order)
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Info("Balances rebuilt from transaction log", "balances", count)
	return count, nil
}

func (s *ledgerServiceImpl) List(ctx context.Context, userEmail string, filter models.TransactionFilter) ([]models.Transaction, error) {
	filter.Limit = clampLimit(filter.Limit, DefaultTransactionLimit)
	txs, err := model.ListTransactions(ctx, s.db, userEmail, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (s *ledgerServiceImpl) History(ctx context.Context, userEmail string, filter models.TransactionFilter) ([]models.TransactionHistoryItem, error) {
	filter.Limit = clampLimit(filter.Limit, DefaultHistoryLimit)
	items, err := model.ListTransactionHistory(ctx, s.db, userEmail, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction history: %w", err)
	}
	return items, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxTransactionLimit {
		return MaxTransactionLimit
	}
	return limit
}

func requireInstrument(ctx context.Context, db model.DBTX, code string) error {
	if _, err := model.GetInstrument(ctx, db, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: instrument '%s' does not exist", ErrNotFound, code)
		}
		return fmt.Errorf("failed to look up instrument: %w", err)
	}
	return nil
}

// recordTransactionPrice stores the transaction's unit price as the price of
// the instrument on the transaction date.
func recordTransactionPrice(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	if !t.Price.Valid || !t.Price.Decimal.IsPositive() {
		return nil
	}
	p := &models.InstrumentPrice{
		InstrumentCode: t.InstrumentCode,
		PriceDate:      t.TransactionDate,
		Price:          t.Price.Decimal,
		CurrencyCode:   t.CurrencyCode,
	}
	if err := model.UpsertPrice(ctx, tx, p); err != nil {
		return fmt.Errorf("failed to record price: %w", err)
	}
	return nil
}

func validateKey(key models.TransactionKey, fallbackAccount, fallbackInstrument string) error {
	if strings.TrimSpace(key.ID) != "" {
		return nil
	}
	if strings.TrimSpace(key.CreatedAt) == "" {
		return fmt.Errorf("%w: id or createdAt is required to identify the transaction", validation.ErrValidationFailed)
	}
	if firstNonEmpty(key.OriginalAccountName, fallbackAccount) == "" || firstNonEmpty(key.OriginalInstrumentCode, fallbackInstrument) == "" {
		return fmt.Errorf("%w: accountName and instrumentCode are required with createdAt", validation.ErrValidationFailed)
	}
	return nil
}

// locateTransaction resolves key, by id or by the legacy created_at key.
func locateTransaction(ctx context.Context, db model.DBTX, userEmail string, key models.TransactionKey, fallbackAccount, fallbackInstrument string) (*models.Transaction, error) {
	var (
		t   *models.Transaction
		err error
	)
	if id := strings.TrimSpace(key.ID); id != "" {
		t, err = model.GetTransactionByID(ctx, db, userEmail, id)
	} else {
		createdAt, perr := model.NormalizeTimestamp(strings.TrimSpace(key.CreatedAt))
		if perr != nil {
			return nil, fmt.Errorf("%w: createdAt ('%s') must be an RFC3339 timestamp", validation.ErrValidationFailed, key.CreatedAt)
		}
		account := firstNonEmpty(key.OriginalAccountName, fallbackAccount)
		instrument := firstNonEmpty(key.OriginalInstrumentCode, fallbackInstrument)
		t, err = model.FindTransactionByCreatedAt(ctx, db, userEmail, account, instrument, createdAt)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction not found", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}
	return t, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
