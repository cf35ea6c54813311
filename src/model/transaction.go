package model

import (
	"context"
	"database/sql"
	"strings"

	"github.com/username/carteira/src/models"
)

const transactionColumns = `t.id, t.user_email, t.account_name, t.instrument_code, t.imported_file_id, t.transaction_date,
	t.transaction_type, t.quantity, t.price, t.total_amount, t.currency_code, t.description, t.created_at`

func scanTransactionFields(row RowScanner, t *models.Transaction, extra ...any) error {
	var fileID, description sql.NullString
	dest := []any{&t.ID, &t.UserEmail, &t.AccountName, &t.InstrumentCode, &fileID, &t.TransactionDate,
		&t.TransactionType, &t.Quantity, &t.Price, &t.TotalAmount, &t.CurrencyCode, &description, &t.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	t.ImportedFileID = stringPtr(fileID)
	t.Description = stringPtr(description)
	t.Quantity = roundQuantity(t.Quantity)
	t.Price = roundNullQuantity(t.Price)
	return nil
}

func scanTransaction(row RowScanner, t *models.Transaction) error {
	return scanTransactionFields(row, t)
}

func InsertTransaction(ctx context.Context, db DBTX, t *models.Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_email, account_name, instrument_code, imported_file_id, transaction_date,
			transaction_type, quantity, price, total_amount, currency_code, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserEmail, t.AccountName, t.InstrumentCode, nullableString(t.ImportedFileID), t.TransactionDate,
		string(t.TransactionType), t.Quantity.String(), nullableDecimal(t.Price), nullableDecimal(t.TotalAmount),
		t.CurrencyCode, nullableString(t.Description), t.CreatedAt)
	return err
}

// GetTransactionByID returns sql.ErrNoRows when no row of the user has this id.
func GetTransactionByID(ctx context.Context, db DBTX, userEmail, id string) (*models.Transaction, error) {
	var t models.Transaction
	row := db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.user_email = ? AND t.id = ?`, userEmail, id)
	if err := scanTransaction(row, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTransactionByCreatedAt resolves the legacy (account, instrument,
// created_at) key. createdAt must already be in TimestampLayout.
func FindTransactionByCreatedAt(ctx context.Context, db DBTX, userEmail, accountName, instrumentCode, createdAt string) (*models.Transaction, error) {
	var t models.Transaction
	row := db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		 WHERE t.user_email = ? AND t.account_name = ? AND t.instrument_code = ? AND t.created_at = ?
		 ORDER BY t.id LIMIT 1`,
		userEmail, accountName, instrumentCode, createdAt)
	if err := scanTransaction(row, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTransaction rewrites the mutable fields of a row. id, user and
// created_at never change.
func UpdateTransaction(ctx context.Context, db DBTX, t *models.Transaction) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE transactions SET account_name = ?, instrument_code = ?, transaction_date = ?, transaction_type = ?,
			quantity = ?, price = ?, total_amount = ?, currency_code = ?, description = ?
		 WHERE user_email = ? AND id = ?`,
		t.AccountName, t.InstrumentCode, t.TransactionDate, string(t.TransactionType), t.Quantity.String(),
		nullableDecimal(t.Price), nullableDecimal(t.TotalAmount), t.CurrencyCode, nullableString(t.Description),
		t.UserEmail, t.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func DeleteTransaction(ctx context.Context, db DBTX, userEmail, id string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM transactions WHERE user_email = ? AND id = ?`, userEmail, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListTransactions applies the filter and returns newest first.
func ListTransactions(ctx context.Context, db DBTX, userEmail string, f models.TransactionFilter) ([]models.Transaction, error) {
	where, args := transactionFilterClause(userEmail, f)
	args = append(args, f.Limit)
	return LoadList(ctx, db, scanTransaction,
		`SELECT `+transactionColumns+` FROM transactions t WHERE `+where+`
		 ORDER BY t.transaction_date DESC, t.created_at DESC, t.id DESC LIMIT ?`, args...)
}

// ListTransactionHistory is ListTransactions joined with catalog, account
// and import metadata.
func ListTransactionHistory(ctx context.Context, db DBTX, userEmail string, f models.TransactionFilter) ([]models.TransactionHistoryItem, error) {
	where, args := transactionFilterClause(userEmail, f)
	args = append(args, f.Limit)
	return LoadList(ctx, db, func(row RowScanner, item *models.TransactionHistoryItem) error {
		var filename, parent sql.NullString
		if err := scanTransactionFields(row, &item.Transaction, &item.InstrumentName, &item.InstrumentType, &filename, &parent); err != nil {
			return err
		}
		item.SourceFilename = stringPtr(filename)
		item.ParentAccountName = stringPtr(parent)
		return nil
	}, `SELECT `+transactionColumns+`, i.name, i.instrument_type_code, f.filename, a.parent_account_name
		FROM transactions t
		JOIN instruments i ON i.code = t.instrument_code
		LEFT JOIN imported_files f ON f.id = t.imported_file_id
		LEFT JOIN accounts a ON a.user_email = t.user_email AND a.name = t.account_name
		WHERE `+where+`
		ORDER BY t.transaction_date DESC, t.created_at DESC, t.id DESC LIMIT ?`, args...)
}

func transactionFilterClause(userEmail string, f models.TransactionFilter) (string, []any) {
	conds := []string{"t.user_email = ?"}
	args := []any{userEmail}
	if f.AccountName != "" {
		conds = append(conds, "t.account_name = ?")
		args = append(args, f.AccountName)
	}
	if f.InstrumentCode != "" {
		conds = append(conds, "t.instrument_code = ?")
		args = append(args, f.InstrumentCode)
	}
	if f.From != "" {
		conds = append(conds, "t.transaction_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		conds = append(conds, "t.transaction_date <= ?")
		args = append(args, f.To)
	}
	return strings.Join(conds, " AND "), args
}

// ListUserTransactionsForReplay returns every transaction of the user in no particular order.
func ListUserTransactionsForReplay(ctx context.Context, db DBTX, userEmail string) ([]models.Transaction, error) {
	return LoadList(ctx, db, scanTransaction,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.user_email = ?`, userEmail)
}

// ListTransactionsByImportedFile returns the transactions recorded from one uploaded file.
func ListTransactionsByImportedFile(ctx context.Context, db DBTX, userEmail, fileID string) ([]models.Transaction, error) {
	return LoadList(ctx, db, scanTransaction,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.user_email = ? AND t.imported_file_id = ? ORDER BY t.id`,
		userEmail, fileID)
}
