package model

import (
	"context"
	"database/sql"

	"github.com/username/carteira/src/models"
)

const DefaultAccountType = "bank_account"

const accountColumns = `user_email, name, account_type, bank_name, parent_account_name, created_at`

func scanAccount(row RowScanner, a *models.Account) error {
	var bank, parent sql.NullString
	if err := row.Scan(&a.UserEmail, &a.Name, &a.AccountType, &bank, &parent, &a.CreatedAt); err != nil {
		return err
	}
	a.BankName = stringPtr(bank)
	a.ParentAccountName = stringPtr(parent)
	return nil
}

func ListAccounts(ctx context.Context, db DBTX, userEmail string) ([]models.Account, error) {
	return LoadList(ctx, db, scanAccount,
		`SELECT `+accountColumns+` FROM accounts WHERE user_email = ?
		 ORDER BY COALESCE(parent_account_name, name), parent_account_name IS NOT NULL, name`,
		userEmail)
}

// GetAccount returns sql.ErrNoRows when the account does not exist.
func GetAccount(ctx context.Context, db DBTX, userEmail, name string) (*models.Account, error) {
	var a models.Account
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_email = ? AND name = ?`, userEmail, name)
	if err := scanAccount(row, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAccount creates the account with accountType if it is missing and
// leaves an existing account untouched.
func EnsureAccount(ctx context.Context, db DBTX, userEmail, name, accountType string) error {
	if accountType == "" {
		accountType = DefaultAccountType
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (user_email, name, account_type, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_email, name) DO NOTHING`,
		userEmail, name, accountType, NowTimestamp())
	return err
}

// UpsertAccount creates the account or overwrites its descriptive fields.
func UpsertAccount(ctx context.Context, db DBTX, a *models.Account) error {
	if a.AccountType == "" {
		a.AccountType = DefaultAccountType
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (user_email, name, account_type, bank_name, parent_account_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_email, name) DO UPDATE SET
			account_type = excluded.account_type,
			bank_name = excluded.bank_name,
			parent_account_name = excluded.parent_account_name`,
		a.UserEmail, a.Name, a.AccountType, nullableString(a.BankName), nullableString(a.ParentAccountName), NowTimestamp())
	return err
}

// UpdateAccount writes every descriptive field of an existing account.
func UpdateAccount(ctx context.Context, db DBTX, a *models.Account) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE accounts SET account_type = ?, bank_name = ?, parent_account_name = ?
		 WHERE user_email = ? AND name = ?`,
		a.AccountType, nullableString(a.BankName), nullableString(a.ParentAccountName), a.UserEmail, a.Name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ListChildAccountNames(ctx context.Context, db DBTX, userEmail, parentName string) ([]string, error) {
	return LoadList(ctx, db, func(row RowScanner, name *string) error {
		return row.Scan(name)
	}, `SELECT name FROM accounts WHERE user_email = ? AND parent_account_name = ? ORDER BY name`, userEmail, parentName)
}

// DeleteAccountData removes the transactions and balance rows of one account.
func DeleteAccountData(ctx context.Context, db DBTX, userEmail, name string) (txDeleted, balancesDeleted int64, err error) {
	res, err := db.ExecContext(ctx, `DELETE FROM transactions WHERE user_email = ? AND account_name = ?`, userEmail, name)
	if err != nil {
		return 0, 0, err
	}
	if txDeleted, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	res, err = db.ExecContext(ctx, `DELETE FROM account_instruments WHERE user_email = ? AND account_name = ?`, userEmail, name)
	if err != nil {
		return 0, 0, err
	}
	if balancesDeleted, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	return txDeleted, balancesDeleted, nil
}

func DeleteAccount(ctx context.Context, db DBTX, userEmail, name string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE user_email = ? AND name = ?`, userEmail, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
