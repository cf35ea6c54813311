package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/processors"
	"github.com/username/carteira/src/security/validation"
)

type catalogServiceImpl struct {
	db *sql.DB
}

func NewCatalogService(db *sql.DB) CatalogService {
	return &catalogServiceImpl{db: db}
}

func (s *catalogServiceImpl) ListTypes(ctx context.Context) ([]models.InstrumentType, error) {
	types, err := model.ListInstrumentTypes(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list instrument types: %w", err)
	}
	return types, nil
}

func normalizeInstrumentType(t models.InstrumentType) (models.InstrumentType, error) {
	t.Code = strings.ToLower(strings.TrimSpace(t.Code))
	t.Name = validation.SanitizeName(t.Name)
	if err := validation.ValidateStringNotEmpty(t.Code, "code"); err != nil {
		return t, err
	}
	if err := validation.ValidateStringMaxLength(t.Code, validation.MaxTypeCodeLength, "code"); err != nil {
		return t, err
	}
	if err := validation.ValidateStringNotEmpty(t.Name, "name"); err != nil {
		return t, err
	}
	if err := validation.ValidateStringMaxLength(t.Name, validation.DefaultMaxStringLength, "name"); err != nil {
		return t, err
	}
	return t, nil
}

func (s *catalogServiceImpl) UpsertType(ctx context.Context, t models.InstrumentType) (*models.InstrumentType, error) {
	t, err := normalizeInstrumentType(t)
	if err != nil {
		return nil, err
	}
	if err := model.UpsertInstrumentType(ctx, s.db, t); err != nil {
		return nil, fmt.Errorf("failed to save instrument type: %w", err)
	}
	return &t, nil
}

func (s *catalogServiceImpl) UpdateType(ctx context.Context, t models.InstrumentType) (*models.InstrumentType, error) {
	t, err := normalizeInstrumentType(t)
	if err != nil {
		return nil, err
	}
	n, err := model.UpdateInstrumentType(ctx, s.db, t)
	if err != nil {
		return nil, fmt.Errorf("failed to update instrument type: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: instrument type '%s' does not exist", ErrNotFound, t.Code)
	}
	return &t, nil
}

func (s *catalogServiceImpl) DeleteType(ctx context.Context, code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		exists, err := model.InstrumentTypeExists(ctx, tx, code)
		if err != nil {
			return fmt.Errorf("failed to look up instrument type: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: instrument type '%s' does not exist", ErrNotFound, code)
		}
		inUse, err := model.CountInstrumentsOfType(ctx, tx, code)
		if err != nil {
			return fmt.Errorf("failed to count instruments: %w", err)
		}
		if inUse > 0 {
			return fmt.Errorf("%w: %d instruments still use type '%s'", ErrConflict, inUse, code)
		}
		if _, err := model.DeleteInstrumentType(ctx, tx, code); err != nil {
			return fmt.Errorf("failed to delete instrument type: %w", err)
		}
		return nil
	})
}

func (s *catalogServiceImpl) ListInstruments(ctx context.Context, typeCode string) ([]models.Instrument, error) {
	list, err := model.ListInstruments(ctx, s.db, strings.ToLower(strings.TrimSpace(typeCode)))
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return list, nil
}

func (s *catalogServiceImpl) GetInstrument(ctx context.Context, code string) (*models.Instrument, error) {
	inst, err := model.GetInstrument(ctx, s.db, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: instrument '%s' does not exist", ErrNotFound, code)
		}
		return nil, fmt.Errorf("failed to load instrument: %w", err)
	}
	return inst, nil
}

func normalizeInstrumentInput(in models.InstrumentInput) (models.InstrumentInput, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.InstrumentTypeCode = strings.ToLower(strings.TrimSpace(in.InstrumentTypeCode))
	in.Name = validation.SanitizeName(in.Name)
	if err := validation.ValidateStringNotEmpty(in.Code, "code"); err != nil {
		return in, err
	}
	if err := validation.ValidateStringMaxLength(in.Code, processors.MaxInstrumentCodeLength, "code"); err != nil {
		return in, err
	}
	if err := validation.ValidateStringNotEmpty(in.InstrumentTypeCode, "instrumentTypeCode"); err != nil {
		return in, err
	}
	if err := validation.ValidateStringNotEmpty(in.Name, "name"); err != nil {
		return in, err
	}
	if err := validation.ValidateStringMaxLength(in.Name, validation.DefaultMaxStringLength, "name"); err != nil {
		return in, err
	}
	if in.ExternalSymbol != nil {
		symbol := strings.TrimSpace(*in.ExternalSymbol)
		if err := validation.ValidateStringMaxLength(symbol, processors.MaxInstrumentCodeLength, "externalSymbol"); err != nil {
			return in, err
		}
		in.ExternalSymbol = &symbol
	}
	if in.Description != nil {
		d := validation.SanitizeName(*in.Description)
		if err := validation.ValidateStringMaxLength(d, validation.MaxDescriptionLength, "description"); err != nil {
			return in, err
		}
		in.Description = &d
	}
	return in, nil
}

func (s *catalogServiceImpl) requireType(ctx context.Context, db model.DBTX, code string) error {
	exists, err := model.InstrumentTypeExists(ctx, db, code)
	if err != nil {
		return fmt.Errorf("failed to look up instrument type: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: instrument type '%s' does not exist", ErrNotFound, code)
	}
	return nil
}

func (s *catalogServiceImpl) UpsertInstrument(ctx context.Context, in models.InstrumentInput) (*models.Instrument, error) {
	in, err := normalizeInstrumentInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireType(ctx, s.db, in.InstrumentTypeCode); err != nil {
		return nil, err
	}
	if err := model.UpsertInstrument(ctx, s.db, in); err != nil {
		return nil, fmt.Errorf("failed to save instrument: %w", err)
	}
	logger.FromContext(ctx).Info("Instrument saved", "code", in.Code, "type", in.InstrumentTypeCode)
	return s.GetInstrument(ctx, in.Code)
}

func (s *catalogServiceImpl) UpdateInstrument(ctx context.Context, in models.InstrumentInput) (*models.Instrument, error) {
	in, err := normalizeInstrumentInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireType(ctx, s.db, in.InstrumentTypeCode); err != nil {
		return nil, err
	}
	n, err := model.UpdateInstrument(ctx, s.db, in)
	if err != nil {
		return nil, fmt.Errorf("failed to update instrument: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: instrument '%s' does not exist", ErrNotFound, in.Code)
	}
	return s.GetInstrument(ctx, in.Code)
}

// DeleteInstrument refuses while the ledger still references the
// instrument. Its prices go with it.
func (s *catalogServiceImpl) DeleteInstrument(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		refs, err := model.CountInstrumentReferences(ctx, tx, code)
		if err != nil {
			return fmt.Errorf("failed to count instrument references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: instrument '%s' is still referenced by %d transactions or holdings", ErrConflict, code, refs)
		}
		n, err := model.DeleteInstrument(ctx, tx, code)
		if err != nil {
			return fmt.Errorf("failed to delete instrument: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: instrument '%s' does not exist", ErrNotFound, code)
		}
		return nil
	})
}
