package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
)

func buy(account, instrument, qty string) models.TransactionInput {
	return models.TransactionInput{
		AccountName:    account,
		InstrumentCode: instrument,
		Type:           "buy",
		Quantity:       dec(qty),
		Date:           "2026-03-02",
		Currency:       "ARS",
	}
}

func sell(account, instrument, qty string) models.TransactionInput {
	in := buy(account, instrument, qty)
	in.Type = "sell"
	return in
}

func TestLedgerScenarios(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	valuation := NewValuationService(db, "ARS")
	ctx := context.Background()

	// A: first buy on an account that does not exist yet.
	in := buy("Broker", "AL30", "10")
	in.Price = decPtr("100")
	first, err := ledger.Record(ctx, testUser, in)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, dec("1000").Equal(first.TotalAmount.Decimal))
	requireBalance(t, db, "Broker", "AL30", "10")

	holdings, err := valuation.Holdings(ctx, testUser, "")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, dec("1000").Equal(holdings[0].Valuation), "valuation %s", holdings[0].Valuation)
	assert.False(t, holdings[0].PriceMissing)

	// B
	sale, err := ledger.Record(ctx, testUser, sell("Broker", "AL30", "4"))
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "6")

	// C
	_, err = ledger.Amend(ctx, testUser, models.TransactionKey{ID: sale.ID}, sell("Broker", "AL30", "10"))
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "0")

	// D: balances are not clamped at zero.
	_, err = ledger.Remove(ctx, testUser, models.TransactionKey{ID: first.ID})
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "-10")
	requireLedgerConsistent(t, db)

	holdings, err = valuation.Holdings(ctx, testUser, "")
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestLedgerRecordCreatesAccountAndPrice(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "GGAL", "stock", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	in := buy("Nuevo", "GGAL", "3")
	in.Price = decPtr("4500.5")
	_, err := ledger.Record(ctx, testUser, in)
	require.NoError(t, err)

	account, err := model.GetAccount(ctx, db, testUser, "Nuevo")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAccountType, account.AccountType)

	price, err := model.LatestPrice(ctx, db, "GGAL")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", price.PriceDate)
	assert.True(t, dec("4500.5").Equal(price.Price))
	assert.Equal(t, "ARS", price.CurrencyCode)
}

func TestLedgerRejectsBeforeWriting(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      models.TransactionInput
		wantErr error
	}{
		{"zero quantity", buy("Broker", "AL30", "0"), validation.ErrValidationFailed},
		{"negative quantity", buy("Broker", "AL30", "-1"), validation.ErrValidationFailed},
		{"unknown type", func() models.TransactionInput { in := buy("Broker", "AL30", "1"); in.Type = "transfer"; return in }(), validation.ErrValidationFailed},
		{"bad date", func() models.TransactionInput { in := buy("Broker", "AL30", "1"); in.Date = "02/03/2026x"; return in }(), validation.ErrValidationFailed},
		{"bad currency", func() models.TransactionInput { in := buy("Broker", "AL30", "1"); in.Currency = "peso"; return in }(), validation.ErrValidationFailed},
		{"missing account", buy("", "AL30", "1"), validation.ErrValidationFailed},
		{"unknown instrument", buy("Broker", "NOPE", "1"), ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Record(ctx, testUser, tc.in)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	txs, err := ledger.List(ctx, testUser, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	accounts, err := model.ListAccounts(ctx, db, testUser)
	require.NoError(t, err)
	assert.Empty(t, accounts, "a rejected transaction must not create its account")
	assert.Nil(t, balanceOf(t, db, "Broker", "AL30"))
}

func TestLedgerRoundTrip(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	_, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "7.5"))
	require.NoError(t, err)

	in := buy("Broker", "AL30", "2.25")
	tx, err := ledger.Record(ctx, testUser, in)
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "9.75")

	amended, err := ledger.Amend(ctx, testUser, models.TransactionKey{ID: tx.ID}, in)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, amended.ID)
	assert.Equal(t, tx.CreatedAt, amended.CreatedAt)
	requireBalance(t, db, "Broker", "AL30", "9.75")

	_, err = ledger.Remove(ctx, testUser, models.TransactionKey{ID: tx.ID})
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "7.5")
	requireLedgerConsistent(t, db)
}

func TestLedgerBalancesAreExactDecimals(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	valuation := NewValuationService(db, "ARS")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "0.1"))
		require.NoError(t, err)
	}
	_, err := ledger.Record(ctx, testUser, sell("Broker", "AL30", "0.3"))
	require.NoError(t, err)

	got := balanceOf(t, db, "Broker", "AL30")
	require.NotNil(t, got)
	assert.True(t, got.IsZero(), "balance drifted to %s", got.String())

	holdings, err := valuation.Holdings(ctx, testUser, "")
	require.NoError(t, err)
	assert.Empty(t, holdings, "a closed position is not a holding")
	requireLedgerConsistent(t, db)
}

func TestLedgerKeepsLargeQuantities(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	const qty = "123456789012.12345678"
	tx, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", qty))
	require.NoError(t, err)
	_, err = ledger.Record(ctx, testUser, buy("Broker", "AL30", "0.00000001"))
	require.NoError(t, err)

	stored, err := model.GetTransactionByID(ctx, db, testUser, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, qty, stored.Quantity.String())
	requireBalance(t, db, "Broker", "AL30", "123456789012.12345679")

	var kind string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT typeof(quantity) FROM account_instruments`).Scan(&kind))
	assert.Equal(t, "text", kind)
}

func TestLedgerAmendMovesBetweenKeys(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	seedInstrument(t, db, "GD30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	tx, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "10"))
	require.NoError(t, err)

	_, err = ledger.Amend(ctx, testUser, models.TransactionKey{ID: tx.ID}, buy("Banco", "GD30", "4"))
	require.NoError(t, err)

	requireBalance(t, db, "Broker", "AL30", "0")
	requireBalance(t, db, "Banco", "GD30", "4")
	requireLedgerConsistent(t, db)

	stored, err := model.GetTransactionByID(ctx, db, testUser, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "Banco", stored.AccountName)
	assert.Equal(t, "GD30", stored.InstrumentCode)
}

func TestLedgerAmendUnknownInstrumentLeavesStateUntouched(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	tx, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "10"))
	require.NoError(t, err)

	_, err = ledger.Amend(ctx, testUser, models.TransactionKey{ID: tx.ID}, buy("Broker", "NOPE", "1"))
	require.ErrorIs(t, err, ErrNotFound)
	requireBalance(t, db, "Broker", "AL30", "10")
	requireLedgerConsistent(t, db)
}

func TestLedgerLegacyCreatedAtKey(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	tx, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "5"))
	require.NoError(t, err)

	// Clients may send the timestamp back with a different precision.
	created, err := time.Parse(model.TimestampLayout, tx.CreatedAt)
	require.NoError(t, err)
	key := models.TransactionKey{
		CreatedAt:              created.Format("2006-01-02T15:04:05.000000Z07:00"),
		OriginalAccountName:    "Broker",
		OriginalInstrumentCode: "AL30",
	}
	_, err = ledger.Amend(ctx, testUser, key, buy("Broker", "AL30", "8"))
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "8")

	_, err = ledger.Remove(ctx, testUser, models.TransactionKey{CreatedAt: "not a time", OriginalAccountName: "Broker", OriginalInstrumentCode: "AL30"})
	require.ErrorIs(t, err, validation.ErrValidationFailed)

	_, err = ledger.Remove(ctx, testUser, models.TransactionKey{CreatedAt: tx.CreatedAt})
	require.ErrorIs(t, err, validation.ErrValidationFailed, "createdAt alone does not identify a transaction")

	_, err = ledger.Remove(ctx, testUser, models.TransactionKey{CreatedAt: tx.CreatedAt, OriginalAccountName: "Broker", OriginalInstrumentCode: "AL30"})
	require.NoError(t, err)
	requireBalance(t, db, "Broker", "AL30", "0")
}

func TestLedgerRemoveUnknown(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	ledger := newTestLedger(db)

	_, err := ledger.Remove(context.Background(), testUser, models.TransactionKey{ID: "01J0000000000000000000000"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = ledger.Remove(context.Background(), testUser, models.TransactionKey{})
	require.ErrorIs(t, err, validation.ErrValidationFailed)
}

func TestLedgerTransactionsAreScopedToUser(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedUser(t, db, "otro@example.com")
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	tx, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "5"))
	require.NoError(t, err)

	_, err = ledger.Remove(ctx, "otro@example.com", models.TransactionKey{ID: tx.ID})
	require.ErrorIs(t, err, ErrNotFound)
	requireBalance(t, db, "Broker", "AL30", "5")
}

func TestLedgerConcurrentRecords(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := buy("Broker", "AL30", fmt.Sprintf("%d.5", i+1))
			if _, err := ledger.Record(ctx, testUser, in); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Σ (i + 0.5) for i = 1..20
	requireBalance(t, db, "Broker", "AL30", "220")
	requireLedgerConsistent(t, db)
}

func TestLedgerRemoveHoldingAndRebuild(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	seedInstrument(t, db, "USD", "cash", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	_, err := ledger.Record(ctx, testUser, buy("Broker", "AL30", "10"))
	require.NoError(t, err)
	_, err = ledger.Record(ctx, testUser, sell("Broker", "AL30", "3"))
	require.NoError(t, err)
	deposit := buy("Banco", "USD", "250")
	deposit.Type = "deposit"
	_, err = ledger.Record(ctx, testUser, deposit)
	require.NoError(t, err)

	require.NoError(t, ledger.RemoveHolding(ctx, testUser, "Broker", "AL30"))
	assert.Nil(t, balanceOf(t, db, "Broker", "AL30"))
	require.ErrorIs(t, ledger.RemoveHolding(ctx, testUser, "Broker", "AL30"), ErrNotFound)

	n, err := ledger.Rebuild(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	requireBalance(t, db, "Broker", "AL30", "7")
	requireBalance(t, db, "Banco", "USD", "250")
	requireLedgerConsistent(t, db)
}

func TestLedgerListFilters(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	seedInstrument(t, db, "GD30", "bond", nil)
	ledger := newTestLedger(db)
	ctx := context.Background()

	for i, date := range []string{"2026-01-10", "2026-02-10", "2026-03-10"} {
		in := buy("Broker", "AL30", "1")
		in.Date = date
		if i == 2 {
			in.InstrumentCode = "GD30"
		}
		_, err := ledger.Record(ctx, testUser, in)
		require.NoError(t, err)
	}

	all, err := ledger.List(ctx, testUser, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2026-03-10", all[0].TransactionDate, "newest first")

	onlyAL30, err := ledger.List(ctx, testUser, models.TransactionFilter{InstrumentCode: "AL30"})
	require.NoError(t, err)
	assert.Len(t, onlyAL30, 2)

	window, err := ledger.List(ctx, testUser, models.TransactionFilter{From: "2026-02-01", To: "2026-02-28"})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "2026-02-10", window[0].TransactionDate)

	limited, err := ledger.List(ctx, testUser, models.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	history, err := ledger.History(ctx, testUser, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "GD30 name", history[0].InstrumentName)
	assert.Equal(t, "bond", history[0].InstrumentType)
	assert.Nil(t, history[0].SourceFilename)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultTransactionLimit, clampLimit(0, DefaultTransactionLimit))
	assert.Equal(t, DefaultHistoryLimit, clampLimit(-3, DefaultHistoryLimit))
	assert.Equal(t, 42, clampLimit(42, DefaultTransactionLimit))
	assert.Equal(t, MaxTransactionLimit, clampLimit(10_000, DefaultTransactionLimit))
}
