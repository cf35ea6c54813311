package model

import (
	"context"

	"github.com/username/carteira/src/models"
)

const priceColumns = `id, instrument_code, price_date, price, currency_code, as_of, created_at`

// latestFirst is the ordering that decides which price is "current".
const latestFirst = `price_date DESC, as_of DESC, created_at DESC, id DESC`

func scanPrice(row RowScanner, p *models.InstrumentPrice) error {
	return row.Scan(&p.ID, &p.InstrumentCode, &p.PriceDate, &p.Price, &p.CurrencyCode, &p.AsOf, &p.CreatedAt)
}

// UpsertPrice writes the price of an instrument for a day. A later write for
// the same (instrument, day) replaces the earlier one.
func UpsertPrice(ctx context.Context, db DBTX, p *models.InstrumentPrice) error {
	now := NowTimestamp()
	if p.AsOf == "" {
		p.AsOf = now
	}
	p.CreatedAt = now
	return db.QueryRowContext(ctx,
		`INSERT INTO instrument_prices (instrument_code, price_date, price, currency_code, as_of, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instrument_code, price_date) DO UPDATE SET
			price = excluded.price,
			currency_code = excluded.currency_code,
			as_of = excluded.as_of,
			created_at = excluded.created_at
		 RETURNING id`,
		p.InstrumentCode, p.PriceDate, p.Price.String(), p.CurrencyCode, p.AsOf, p.CreatedAt,
	).Scan(&p.ID)
}

// GetPrice returns sql.ErrNoRows when id is unknown.
func GetPrice(ctx context.Context, db DBTX, id int64) (*models.InstrumentPrice, error) {
	var p models.InstrumentPrice
	if err := scanPrice(db.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM instrument_prices WHERE id = ?`, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePrice corrects an existing row in place.
func UpdatePrice(ctx context.Context, db DBTX, p *models.InstrumentPrice) (int64, error) {
	now := NowTimestamp()
	if p.AsOf == "" {
		p.AsOf = now
	}
	res, err := db.ExecContext(ctx,
		`UPDATE instrument_prices SET price_date = ?, price = ?, currency_code = ?, as_of = ?, created_at = ? WHERE id = ?`,
		p.PriceDate, p.Price.String(), p.CurrencyCode, p.AsOf, now, p.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func DeletePrice(ctx context.Context, db DBTX, id int64) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM instrument_prices WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecentPrices returns up to perInstrument latest prices of every instrument,
// newest first within each instrument. The overall result is capped at
// perInstrument*60 rows.
func RecentPrices(ctx context.Context, db DBTX, perInstrument int) ([]models.InstrumentPrice, error) {
	return LoadList(ctx, db, scanPrice,
		`SELECT `+priceColumns+` FROM (
			SELECT `+priceColumns+`,
				ROW_NUMBER() OVER (PARTITION BY instrument_code ORDER BY `+latestFirst+`) AS rn
			FROM instrument_prices
		) WHERE rn <= ?
		ORDER BY instrument_code, `+latestFirst+`
		LIMIT ?`,
		perInstrument, perInstrument*60)
}

// LatestPrice returns sql.ErrNoRows when the instrument has never been priced.
func LatestPrice(ctx context.Context, db DBTX, instrumentCode string) (*models.InstrumentPrice, error) {
	var p models.InstrumentPrice
	err := scanPrice(db.QueryRowContext(ctx,
		`SELECT `+priceColumns+` FROM instrument_prices WHERE instrument_code = ? ORDER BY `+latestFirst+` LIMIT 1`,
		instrumentCode), &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LatestPriceOnOrBefore is LatestPrice restricted to price_date <= date.
func LatestPriceOnOrBefore(ctx context.Context, db DBTX, instrumentCode, date string) (*models.InstrumentPrice, error) {
	var p models.InstrumentPrice
	err := scanPrice(db.QueryRowContext(ctx,
		`SELECT `+priceColumns+` FROM instrument_prices WHERE instrument_code = ? AND price_date <= ? ORDER BY `+latestFirst+` LIMIT 1`,
		instrumentCode, date), &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RankedPrice is a price together with its recency rank within its instrument (1 = latest).
type RankedPrice struct {
	models.InstrumentPrice
	InstrumentName string
	Rank           int
}

// LatestTwoPrices returns rank 1 and rank 2 prices per instrument, optionally for one instrument only.
func LatestTwoPrices(ctx context.Context, db DBTX, instrumentCode string) ([]RankedPrice, error) {
	query := `SELECT p.id, p.instrument_code, p.price_date, p.price, p.currency_code, p.as_of, p.created_at, i.name, p.rn
		FROM (
			SELECT ` + priceColumns + `,
				ROW_NUMBER() OVER (PARTITION BY instrument_code ORDER BY ` + latestFirst + `) AS rn
			FROM instrument_prices
		) p JOIN instruments i ON i.code = p.instrument_code
		WHERE p.rn <= 2`
	args := []any{}
	if instrumentCode != "" {
		query += ` AND p.instrument_code = ?`
		args = append(args, instrumentCode)
	}
	query += ` ORDER BY p.instrument_code, p.rn`

	return LoadList(ctx, db, func(row RowScanner, rp *RankedPrice) error {
		return row.Scan(&rp.ID, &rp.InstrumentCode, &rp.PriceDate, &rp.Price, &rp.CurrencyCode, &rp.AsOf, &rp.CreatedAt, &rp.InstrumentName, &rp.Rank)
	}, query, args...)
}
