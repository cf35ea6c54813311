package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
)

const importCSV = "fecha,cuenta,instrumento,tipo,cantidad,precio,moneda,descripcion\n" +
	"2026-03-01,Broker,AL30,buy,10,100,ARS,compra inicial\n" +
	"02/03/2026,Broker,AL30,sell,4,,ARS,\n" +
	"2026-03-03,Banco,GD30,buy,5,,ARS,\n"

func newTestImports(t *testing.T, db *sql.DB) ImportService {
	t.Helper()
	return NewImportService(db, newTestLedger(db), t.TempDir(), 1<<20)
}

func TestImportUploadIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedUser(t, db, "otro@example.com")
	imports := newTestImports(t, db)
	ctx := context.Background()

	first, err := imports.Upload(ctx, testUser, "movimientos.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)
	assert.False(t, first.AlreadyUploaded)
	assert.Equal(t, models.ImportStatusPending, first.File.Status)
	assert.NotEmpty(t, first.Buffer)

	again, err := imports.Upload(ctx, testUser, "copia.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)
	assert.True(t, again.AlreadyUploaded)
	assert.Equal(t, first.File.ID, again.File.ID)
	assert.Equal(t, "movimientos.csv", again.File.Filename)

	// Idempotency is per user.
	other, err := imports.Upload(ctx, "otro@example.com", "movimientos.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)
	assert.False(t, other.AlreadyUploaded)
	assert.NotEqual(t, first.File.ID, other.File.ID)

	files, err := imports.ListFiles(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestImportUploadRejectsBadFiles(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	imports := newTestImports(t, db)
	ctx := context.Background()

	tests := []struct {
		name, filename, contentType string
		content                     []byte
	}{
		{"empty", "a.csv", "text/csv", nil},
		{"content type", "a.csv", "image/png", []byte(importCSV)},
		{"extension mismatch", "a.xlsx", "text/csv", []byte(importCSV)},
		{"binary", "a.csv", "text/csv", []byte{0x00, 0x01, 0x02, 'a'}},
		{"legacy xls", "a.xls", "application/vnd.ms-excel", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0x00}},
		{"too large", "a.csv", "text/csv", make([]byte, 2<<20)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := imports.Upload(ctx, testUser, tc.filename, tc.contentType, tc.content)
			require.ErrorIs(t, err, validation.ErrValidationFailed)
		})
	}
}

func TestImportProcessRecordsRows(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	seedInstrument(t, db, "GD30", "bond", nil)
	imports := newTestImports(t, db)
	ctx := context.Background()

	up, err := imports.Upload(ctx, testUser, "movimientos.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)

	result, err := imports.Process(ctx, testUser, up.File.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
	assert.Equal(t, 3, result.RowsProcessed)
	assert.Zero(t, result.ErrorsCount)
	assert.False(t, result.AlreadyProcessed)
	requireBalance(t, db, "Broker", "AL30", "6")
	requireBalance(t, db, "Banco", "GD30", "5")

	again, err := imports.Process(ctx, testUser, up.File.ID, []byte(importCSV))
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, 3, again.RowsProcessed)
	requireBalance(t, db, "Broker", "AL30", "6")
	requireLedgerConsistent(t, db)

	history, err := newTestLedger(db).History(ctx, testUser, models.TransactionFilter{InstrumentCode: "AL30"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].SourceFilename)
	assert.Equal(t, "movimientos.csv", *history[0].SourceFilename)
	assert.Equal(t, "2026-03-02", history[0].TransactionDate)
}

func TestImportReprocessFailedFileDoesNotDoubleCount(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	imports := newTestImports(t, db)
	ctx := context.Background()

	up, err := imports.Upload(ctx, testUser, "movimientos.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)

	result, err := imports.Process(ctx, testUser, up.File.ID, []byte(importCSV))
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusFailed, result.Status)
	assert.Equal(t, 2, result.RowsProcessed)
	require.Equal(t, 1, result.ErrorsCount)
	assert.Equal(t, "Row 4: instrument 'GD30' does not exist", result.Errors[0])
	requireBalance(t, db, "Broker", "AL30", "6")

	seedInstrument(t, db, "GD30", "bond", nil)
	result, err = imports.Process(ctx, testUser, up.File.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
	assert.Equal(t, 3, result.RowsProcessed)
	requireBalance(t, db, "Broker", "AL30", "6")
	requireBalance(t, db, "Banco", "GD30", "5")
	requireLedgerConsistent(t, db)

	files, err := imports.ListFiles(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, models.ImportStatusCompleted, files[0].Status)
	assert.Empty(t, files[0].ErrorDetails)
}

func TestImportRowErrors(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	imports := newTestImports(t, db)
	ctx := context.Background()

	content := "Fecha;Cuenta;Instrumento;Tipo;Cantidad;Precio;Descripción\n" +
		"2026-03-01;Broker;AL30;compra;1;;\n" +
		"2026-03-01;Broker;AL30;buy;uno;;\n" +
		"2026-03-01;Broker;AL30;buy;1;;=1+2\n" +
		";;;;;;\n" +
		"2026-03-01;Broker;AL30;buy;1.234,5;1.000,25;\n"
	up, err := imports.Upload(ctx, testUser, "errores.csv", "", []byte(content))
	require.NoError(t, err)

	result, err := imports.Process(ctx, testUser, up.File.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusFailed, result.Status)
	assert.Equal(t, 1, result.RowsProcessed)
	require.Equal(t, 3, result.ErrorsCount)
	assert.Contains(t, result.Errors[0], "Row 2: invalid transaction type 'compra'")
	assert.Equal(t, "Row 3: quantity 'uno' is not a number", result.Errors[1])
	assert.Contains(t, result.Errors[2], "Row 4: potential formula injection")
	requireBalance(t, db, "Broker", "AL30", "1234.5")
}

func TestImportProcessChecksBufferAndOwner(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedUser(t, db, "otro@example.com")
	imports := newTestImports(t, db)
	ctx := context.Background()

	up, err := imports.Upload(ctx, testUser, "movimientos.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)

	_, err = imports.Process(ctx, testUser, up.File.ID, []byte("otra cosa"))
	require.ErrorIs(t, err, validation.ErrValidationFailed)

	_, err = imports.Process(ctx, "otro@example.com", up.File.ID, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = imports.Process(ctx, testUser, "missing", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportProcessUnparseableFile(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	imports := newTestImports(t, db)
	ctx := context.Background()

	up, err := imports.Upload(ctx, testUser, "raro.csv", "text/csv", []byte("a,b,c\n1,2,3\n"))
	require.NoError(t, err)

	_, err = imports.Process(ctx, testUser, up.File.ID, nil)
	require.ErrorIs(t, err, ErrParsingFailed)

	files, err := imports.ListFiles(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, models.ImportStatusFailed, files[0].Status)
	require.Len(t, files[0].ErrorDetails, 1)
	assert.Contains(t, files[0].ErrorDetails[0], "missing required column(s)")
}

func TestImportConcurrentProcessCountsOnce(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	imports := newTestImports(t, db)
	ctx := context.Background()

	const rows = 200
	var b strings.Builder
	b.WriteString("fecha,cuenta,instrumento,tipo,cantidad\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "2026-03-01,Broker,AL30,buy,1\n")
	}
	up, err := imports.Upload(ctx, testUser, "muchas.csv", "text/csv", []byte(b.String()))
	require.NoError(t, err)

	const workers = 4
	var wg sync.WaitGroup
	results := make(chan *models.ImportResult, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := imports.Process(ctx, testUser, up.File.ID, nil)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, ErrConflict)
	}
	ran := 0
	for res := range results {
		if !res.AlreadyProcessed {
			ran++
			assert.Equal(t, rows, res.RowsProcessed)
		}
	}
	assert.Equal(t, 1, ran, "exactly one request runs the import")
	requireBalance(t, db, "Broker", "AL30", fmt.Sprint(rows))
	requireLedgerConsistent(t, db)
}

func TestImportProcessRespectsClaims(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, testUser)
	seedInstrument(t, db, "AL30", "bond", nil)
	seedInstrument(t, db, "GD30", "bond", nil)
	imports := newTestImports(t, db)
	ctx := context.Background()

	up, err := imports.Upload(ctx, testUser, "movimientos.csv", "text/csv", []byte(importCSV))
	require.NoError(t, err)

	claim := func(at time.Time) {
		_, err := db.ExecContext(ctx, `UPDATE imported_files SET status = 'processing', claimed_at = ? WHERE id = ?`,
			model.FormatTimestamp(at), up.File.ID)
		require.NoError(t, err)
	}

	// A live claim held by another request.
	claim(time.Now())
	_, err = imports.Process(ctx, testUser, up.File.ID, nil)
	require.ErrorIs(t, err, ErrConflict)
	assert.Nil(t, balanceOf(t, db, "Broker", "AL30"))

	// A claim older than the TTL belongs to a request that died.
	claim(time.Now().Add(-2 * imports.(*importServiceImpl).claimTTL))
	result, err := imports.Process(ctx, testUser, up.File.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
	requireBalance(t, db, "Broker", "AL30", "6")

	var claimedAt sql.NullString
	require.NoError(t, db.QueryRowContext(ctx, `SELECT claimed_at FROM imported_files WHERE id = ?`, up.File.ID).Scan(&claimedAt))
	assert.False(t, claimedAt.Valid, "finishing releases the claim")
}
