package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/username/carteira/src/database"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/processors"
)

const testUser = "ana@example.com"

// newTestDB returns a migrated database in a fresh temp directory.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "carteira.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *sql.DB, email string) {
	t.Helper()
	require.NoError(t, model.CreateUser(context.Background(), db, &models.User{Email: email, Name: "Test"}))
}

func seedInstrument(t *testing.T, db *sql.DB, code, typeCode string, symbol *string) {
	t.Helper()
	require.NoError(t, model.UpsertInstrument(context.Background(), db, models.InstrumentInput{
		Code:               code,
		InstrumentTypeCode: typeCode,
		Name:               code + " name",
		ExternalSymbol:     symbol,
	}))
}

func seedPrice(t *testing.T, db *sql.DB, code, date, price, currency string) {
	t.Helper()
	require.NoError(t, model.UpsertPrice(context.Background(), db, &models.InstrumentPrice{
		InstrumentCode: code,
		PriceDate:      date,
		Price:          decimal.RequireFromString(price),
		CurrencyCode:   currency,
	}))
}

func newTestLedger(db *sql.DB) LedgerService {
	return NewLedgerService(db, processors.NewTransactionProcessor("ARS"))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// balanceOf returns the stored quantity, or nil when the row does not exist.
func balanceOf(t *testing.T, db *sql.DB, account, instrument string) *decimal.Decimal {
	t.Helper()
	b, err := model.GetBalance(context.Background(), db, testUser, account, instrument)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	require.NoError(t, err)
	return &b.Quantity
}

func requireBalance(t *testing.T, db *sql.DB, account, instrument, want string) {
	t.Helper()
	got := balanceOf(t, db, account, instrument)
	require.NotNil(t, got, "no balance row for %s/%s", account, instrument)
	require.True(t, dec(want).Equal(*got), "balance of %s/%s: want %s, got %s", account, instrument, want, got.String())
}

// requireLedgerConsistent checks that every balance row equals the sum of the
// signed quantities of the transactions with the same key, and that every
// key with transactions has a balance row.
func requireLedgerConsistent(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	txs, err := model.ListUserTransactionsForReplay(ctx, db, testUser)
	require.NoError(t, err)

	sums := map[string]decimal.Decimal{}
	keys := map[string][2]string{}
	for _, tx := range txs {
		k := model.PositionKey(tx.AccountName, tx.InstrumentCode)
		sums[k] = sums[k].Add(processors.SignedQuantity(tx.TransactionType, tx.Quantity))
		keys[k] = [2]string{tx.AccountName, tx.InstrumentCode}
	}
	for k, want := range sums {
		requireBalance(t, db, keys[k][0], keys[k][1], want.String())
	}
}
