package model

import (
	"context"
	"database/sql"

	"github.com/username/carteira/src/models"
)

func ListInstrumentTypes(ctx context.Context, db DBTX) ([]models.InstrumentType, error) {
	return LoadList(ctx, db, func(row RowScanner, t *models.InstrumentType) error {
		return row.Scan(&t.Code, &t.Name)
	}, `SELECT code, name FROM instrument_types ORDER BY code`)
}

func InstrumentTypeExists(ctx context.Context, db DBTX, code string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instrument_types WHERE code = ?`, code).Scan(&n)
	return n > 0, err
}

func UpsertInstrumentType(ctx context.Context, db DBTX, t models.InstrumentType) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO instrument_types (code, name) VALUES (?, ?)
		 ON CONFLICT (code) DO UPDATE SET name = excluded.name`, t.Code, t.Name)
	return err
}

func UpdateInstrumentType(ctx context.Context, db DBTX, t models.InstrumentType) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE instrument_types SET name = ? WHERE code = ?`, t.Name, t.Code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func CountInstrumentsOfType(ctx context.Context, db DBTX, code string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instruments WHERE instrument_type_code = ?`, code).Scan(&n)
	return n, err
}

func DeleteInstrumentType(ctx context.Context, db DBTX, code string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM instrument_types WHERE code = ?`, code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const instrumentSelect = `SELECT i.code, i.instrument_type_code, t.name, i.name, i.external_symbol, i.description, i.created_at
	FROM instruments i JOIN instrument_types t ON t.code = i.instrument_type_code`

func scanInstrument(row RowScanner, i *models.Instrument) error {
	var symbol, description sql.NullString
	if err := row.Scan(&i.Code, &i.InstrumentTypeCode, &i.InstrumentTypeName, &i.Name, &symbol, &description, &i.CreatedAt); err != nil {
		return err
	}
	i.ExternalSymbol = stringPtr(symbol)
	i.Description = stringPtr(description)
	return nil
}

// ListInstruments returns the catalog, optionally restricted to one type.
func ListInstruments(ctx context.Context, db DBTX, typeCode string) ([]models.Instrument, error) {
	if typeCode != "" {
		return LoadList(ctx, db, scanInstrument, instrumentSelect+` WHERE i.instrument_type_code = ? ORDER BY i.code`, typeCode)
	}
	return LoadList(ctx, db, scanInstrument, instrumentSelect+` ORDER BY i.code`)
}

// GetInstrument returns sql.ErrNoRows when the code is unknown.
func GetInstrument(ctx context.Context, db DBTX, code string) (*models.Instrument, error) {
	var i models.Instrument
	if err := scanInstrument(db.QueryRowContext(ctx, instrumentSelect+` WHERE i.code = ?`, code), &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func UpsertInstrument(ctx context.Context, db DBTX, in models.InstrumentInput) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO instruments (code, instrument_type_code, name, external_symbol, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
			instrument_type_code = excluded.instrument_type_code,
			name = excluded.name,
			external_symbol = excluded.external_symbol,
			description = excluded.description`,
		in.Code, in.InstrumentTypeCode, in.Name, nullableString(in.ExternalSymbol), nullableString(in.Description), NowTimestamp())
	return err
}

func UpdateInstrument(ctx context.Context, db DBTX, in models.InstrumentInput) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE instruments SET instrument_type_code = ?, name = ?, external_symbol = ?, description = ? WHERE code = ?`,
		in.InstrumentTypeCode, in.Name, nullableString(in.ExternalSymbol), nullableString(in.Description), in.Code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountInstrumentReferences counts ledger rows that still point at code.
func CountInstrumentReferences(ctx context.Context, db DBTX, code string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM transactions WHERE instrument_code = ?)
		      + (SELECT COUNT(*) FROM account_instruments WHERE instrument_code = ?)`, code, code).Scan(&n)
	return n, err
}

func DeleteInstrument(ctx context.Context, db DBTX, code string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM instruments WHERE code = ?`, code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
