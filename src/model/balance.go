package model

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/models"
)

// ApplyBalanceDelta adds delta to the balance of (user, account, instrument),
// creating the row when it does not exist yet. The sum is done in decimal, so
// db must be a transaction holding the write lock.
func ApplyBalanceDelta(ctx context.Context, db DBTX, userEmail, accountName, instrumentCode string, delta decimal.Decimal) error {
	quantity := delta
	current, err := GetBalance(ctx, db, userEmail, accountName, instrumentCode)
	switch {
	case err == nil:
		quantity = current.Quantity.Add(delta)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	return SetBalance(ctx, db, models.Balance{
		UserEmail:      userEmail,
		AccountName:    accountName,
		InstrumentCode: instrumentCode,
		Quantity:       quantity,
	})
}

// GetBalance returns sql.ErrNoRows when the key has no balance row.
func GetBalance(ctx context.Context, db DBTX, userEmail, accountName, instrumentCode string) (*models.Balance, error) {
	var b models.Balance
	err := db.QueryRowContext(ctx,
		`SELECT user_email, account_name, instrument_code, quantity, updated_at FROM account_instruments
		 WHERE user_email = ? AND account_name = ? AND instrument_code = ?`,
		userEmail, accountName, instrumentCode,
	).Scan(&b.UserEmail, &b.AccountName, &b.InstrumentCode, &b.Quantity, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Quantity = roundQuantity(b.Quantity)
	return &b, nil
}

func DeleteBalance(ctx context.Context, db DBTX, userEmail, accountName, instrumentCode string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM account_instruments WHERE user_email = ? AND account_name = ? AND instrument_code = ?`,
		userEmail, accountName, instrumentCode)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func DeleteUserBalances(ctx context.Context, db DBTX, userEmail string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM account_instruments WHERE user_email = ?`, userEmail)
	return err
}

// SetBalance overwrites a balance row with an absolute quantity.
func SetBalance(ctx context.Context, db DBTX, b models.Balance) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO account_instruments (user_email, account_name, instrument_code, quantity, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_email, account_name, instrument_code) DO UPDATE SET
			quantity = excluded.quantity,
			updated_at = excluded.updated_at`,
		b.UserEmail, b.AccountName, b.InstrumentCode, roundQuantity(b.Quantity).String(), NowTimestamp())
	return err
}

// PositionRow is a balance joined with its instrument, account and latest price.
type PositionRow struct {
	AccountName       string
	AccountType       string
	ParentAccountName *string
	InstrumentCode    string
	InstrumentName    string
	InstrumentType    string
	Quantity          decimal.Decimal
	Price             decimal.NullDecimal
	PriceDate         *string
	PriceCurrency     *string
}

// ListPositions returns the strictly positive balances of a user, each with
// the latest known price of its instrument (if any).
func ListPositions(ctx context.Context, db DBTX, userEmail, accountName string) ([]PositionRow, error) {
	query := `SELECT b.account_name, a.account_type, a.parent_account_name, b.instrument_code, i.name, i.instrument_type_code,
			b.quantity, lp.price, lp.price_date, lp.currency_code
		FROM account_instruments b
		JOIN instruments i ON i.code = b.instrument_code
		JOIN accounts a ON a.user_email = b.user_email AND a.name = b.account_name
		LEFT JOIN (
			SELECT instrument_code, price, price_date, currency_code,
				ROW_NUMBER() OVER (PARTITION BY instrument_code ORDER BY ` + latestFirst + `) AS rn
			FROM instrument_prices
		) lp ON lp.instrument_code = b.instrument_code AND lp.rn = 1
		WHERE b.user_email = ?`
	args := []any{userEmail}
	if accountName != "" {
		query += ` AND b.account_name = ?`
		args = append(args, accountName)
	}
	query += ` ORDER BY b.account_name, b.instrument_code`

	rows, err := LoadList(ctx, db, func(row RowScanner, p *PositionRow) error {
		var parent, priceDate, currency sql.NullString
		if err := row.Scan(&p.AccountName, &p.AccountType, &parent, &p.InstrumentCode, &p.InstrumentName, &p.InstrumentType,
			&p.Quantity, &p.Price, &priceDate, &currency); err != nil {
			return err
		}
		p.Quantity = roundQuantity(p.Quantity)
		p.ParentAccountName = stringPtr(parent)
		p.PriceDate = stringPtr(priceDate)
		p.PriceCurrency = stringPtr(currency)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	// quantity is TEXT, so the sign test happens here rather than in SQL.
	positive := rows[:0]
	for _, p := range rows {
		if p.Quantity.IsPositive() {
			positive = append(positive, p)
		}
	}
	return positive, nil
}

// AverageBuyPrices returns the quantity-weighted mean price of priced buy
// transactions per (account, instrument), keyed by PositionKey.
func AverageBuyPrices(ctx context.Context, db DBTX, userEmail string) (map[string]decimal.Decimal, error) {
	type buyRow struct {
		account, instrument string
		price, quantity     decimal.Decimal
	}
	rows, err := LoadList(ctx, db, func(row RowScanner, r *buyRow) error {
		return row.Scan(&r.account, &r.instrument, &r.price, &r.quantity)
	}, `SELECT account_name, instrument_code, price, quantity
		FROM transactions
		WHERE user_email = ? AND transaction_type = 'buy' AND price IS NOT NULL`, userEmail)
	if err != nil {
		return nil, err
	}

	type acc struct{ cost, quantity decimal.Decimal }
	sums := make(map[string]*acc)
	for _, r := range rows {
		if !r.price.IsPositive() {
			continue
		}
		k := PositionKey(r.account, r.instrument)
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
		}
		a.cost = a.cost.Add(r.price.Mul(r.quantity))
		a.quantity = a.quantity.Add(r.quantity)
	}

	out := make(map[string]decimal.Decimal, len(sums))
	for k, a := range sums {
		if a.quantity.IsPositive() {
			out[k] = a.cost.DivRound(a.quantity, 12)
		}
	}
	return out, nil
}

// PositionKey builds the map key used by AverageBuyPrices.
func PositionKey(accountName, instrumentCode string) string {
	return accountName + "\x00" + instrumentCode
}
