package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every function in this
// package can run standalone or as one step of a larger transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RowScanner is the common part of *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// TimestampLayout is the storage format of every *_at column. Values are UTC
// and carry exactly millisecond precision, so a timestamp that went through a
// JSON client compares equal when it comes back.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DateLayout is the storage format of calendar dates.
const DateLayout = "2006-01-02"

// QuantityScale is the number of fractional digits kept for quantities.
const QuantityScale = 8

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// NowTimestamp returns the current time in TimestampLayout.
func NowTimestamp() string {
	return FormatTimestamp(time.Now())
}

// NormalizeTimestamp parses any RFC3339 timestamp (with or without fractional
// seconds) and re-renders it at millisecond precision.
func NormalizeTimestamp(value string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}

// LoadList runs query and appends one scanned T per row.
func LoadList[T any](
	ctx context.Context,
	conn DBTX,
	scan func(RowScanner, *T) error,
	query string,
	args ...any,
) ([]T, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]T, 0)
	for rows.Next() {
		var instance T
		if err := scan(rows, &instance); err != nil {
			return nil, err
		}
		list = append(list, instance)
	}
	return list, rows.Err()
}

// nullableString maps "" to NULL.
func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func roundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

func roundNullQuantity(d decimal.NullDecimal) decimal.NullDecimal {
	if d.Valid {
		d.Decimal = d.Decimal.Round(QuantityScale)
	}
	return d
}
