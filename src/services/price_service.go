package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
	"github.com/username/carteira/src/services/quotes"
)

const DefaultRecentPrices = 5

type priceServiceImpl struct {
	db           *sql.DB
	provider     quotes.Provider
	baseCurrency string
	syncLimit    int
	now          func() time.Time
}

// NewPriceService builds the price store. provider may be nil, in which case
// Sync reports every instrument as failed.
func NewPriceService(db *sql.DB, provider quotes.Provider, baseCurrency string, syncLimit int) PriceService {
	if syncLimit <= 0 {
		syncLimit = 50
	}
	return &priceServiceImpl{
		db:           db,
		provider:     provider,
		baseCurrency: strings.ToUpper(baseCurrency),
		syncLimit:    syncLimit,
		now:          time.Now,
	}
}

func (s *priceServiceImpl) Upsert(ctx context.Context, in models.PriceInput) (*models.InstrumentPrice, error) {
	p, err := s.normalize(in, nil)
	if err != nil {
		return nil, err
	}
	if err := requireInstrument(ctx, s.db, p.InstrumentCode); err != nil {
		return nil, err
	}
	if err := model.UpsertPrice(ctx, s.db, p); err != nil {
		return nil, fmt.Errorf("failed to store price: %w", err)
	}
	logger.FromContext(ctx).Info("Price stored", "instrument", p.InstrumentCode, "date", p.PriceDate, "price", p.Price.String())
	return p, nil
}

// Update corrects the row with in.ID. Omitted fields keep their stored value.
func (s *priceServiceImpl) Update(ctx context.Context, in models.PriceInput) (*models.InstrumentPrice, error) {
	if in.ID <= 0 {
		return nil, fmt.Errorf("%w: price id is required", validation.ErrValidationFailed)
	}
	existing, err := model.GetPrice(ctx, s.db, in.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: price %d does not exist", ErrNotFound, in.ID)
		}
		return nil, fmt.Errorf("failed to load price: %w", err)
	}
	p, err := s.normalize(in, existing)
	if err != nil {
		return nil, err
	}
	p.ID = existing.ID
	p.InstrumentCode = existing.InstrumentCode
	if _, err := model.UpdatePrice(ctx, s.db, p); err != nil {
		if model.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s already has a price for %s", ErrConflict, p.InstrumentCode, p.PriceDate)
		}
		return nil, fmt.Errorf("failed to update price: %w", err)
	}
	return model.GetPrice(ctx, s.db, p.ID)
}

func (s *priceServiceImpl) Delete(ctx context.Context, id int64) error {
	n, err := model.DeletePrice(ctx, s.db, id)
	if err != nil {
		return fmt.Errorf("failed to delete price: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: price %d does not exist", ErrNotFound, id)
	}
	return nil
}

func (s *priceServiceImpl) RecentHistory(ctx context.Context, perInstrument int) ([]models.InstrumentPrice, error) {
	if perInstrument <= 0 {
		perInstrument = DefaultRecentPrices
	}
	prices, err := model.RecentPrices(ctx, s.db, perInstrument)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent prices: %w", err)
	}
	return prices, nil
}

// normalize validates a price payload. With existing set, blank fields are
// taken from it instead of from the defaults.
func (s *priceServiceImpl) normalize(in models.PriceInput, existing *models.InstrumentPrice) (*models.InstrumentPrice, error) {
	p := &models.InstrumentPrice{
		InstrumentCode: strings.TrimSpace(in.InstrumentCode),
		PriceDate:      strings.TrimSpace(in.PriceDate),
		Price:          in.Price,
		CurrencyCode:   strings.ToUpper(strings.TrimSpace(in.CurrencyCode)),
	}
	if existing != nil {
		if p.PriceDate == "" {
			p.PriceDate = existing.PriceDate
		}
		if p.CurrencyCode == "" {
			p.CurrencyCode = existing.CurrencyCode
		}
		if p.Price.IsZero() {
			p.Price = existing.Price
		}
	} else if err := validation.ValidateStringNotEmpty(p.InstrumentCode, "instrumentCode"); err != nil {
		return nil, err
	}

	if p.PriceDate == "" {
		p.PriceDate = s.now().Format(model.DateLayout)
	} else if err := validation.ValidateDate(p.PriceDate, "priceDate"); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDecimal(p.Price, "price"); err != nil {
		return nil, err
	}
	if p.CurrencyCode == "" {
		p.CurrencyCode = s.baseCurrency
	} else if err := validation.ValidateCurrencyCode(p.CurrencyCode, "currencyCode"); err != nil {
		return nil, err
	}
	if asOf := strings.TrimSpace(in.AsOf); asOf != "" {
		normalized, err := model.NormalizeTimestamp(asOf)
		if err != nil {
			return nil, fmt.Errorf("%w: asOf ('%s') must be an RFC3339 timestamp", validation.ErrValidationFailed, in.AsOf)
		}
		p.AsOf = normalized
	}
	return p, nil
}

// Sync pulls a quote for every catalog instrument (up to the configured
// limit) and stores it as that instrument's price for the quote's day.
// Failures are collected per instrument; the rest of the batch continues.
func (s *priceServiceImpl) Sync(ctx context.Context) (*models.PriceSyncResult, error) {
	instruments, err := model.ListInstruments(ctx, s.db, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	if len(instruments) > s.syncLimit {
		logger.FromContext(ctx).Warn("Price sync limited", "instruments", len(instruments), "limit", s.syncLimit)
		instruments = instruments[:s.syncLimit]
	}

	result := &models.PriceSyncResult{Errors: []string{}}
	for _, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		symbol := inst.Code
		if inst.ExternalSymbol != nil && strings.TrimSpace(*inst.ExternalSymbol) != "" {
			symbol = strings.TrimSpace(*inst.ExternalSymbol)
		}

		q, err := s.fetch(ctx, inst, symbol)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s (%s): %s", inst.Code, symbol, syncFailure(err)))
			logger.FromContext(ctx).Warn("Failed to fetch quote", "instrument", inst.Code, "symbol", symbol, "error", err)
			continue
		}
		if err := s.storeQuote(ctx, inst.Code, q); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s (%s): price could not be stored", inst.Code, symbol))
			logger.FromContext(ctx).Error("Failed to store quote", "instrument", inst.Code, "symbol", symbol, "error", err)
			continue
		}
		result.Updated++
	}
	result.Success = len(result.Errors) == 0

	logger.FromContext(ctx).Info("Price sync finished", "updated", result.Updated, "errors", len(result.Errors))
	return result, nil
}

// syncFailure is the client-facing reason for a failed quote. Provider
// errors may embed upstream responses, so only ErrNoQuote is passed through.
func syncFailure(err error) string {
	if errors.Is(err, quotes.ErrNoQuote) {
		return quotes.ErrNoQuote.Error()
	}
	return "provider unavailable"
}

// fetch picks how an instrument is quoted: the base currency is always 1,
// other cash instruments and "A/B" symbols are FX pairs, everything else is
// an equity quote.
func (s *priceServiceImpl) fetch(ctx context.Context, inst models.Instrument, symbol string) (*quotes.Quote, error) {
	isCash := inst.InstrumentTypeCode == models.CashInstrumentType
	if isCash && strings.EqualFold(inst.Code, s.baseCurrency) {
		return &quotes.Quote{Symbol: inst.Code, Price: decimal.NewFromInt(1), Currency: s.baseCurrency, Time: s.now().UTC()}, nil
	}
	if s.provider == nil {
		return nil, errors.New("no quote provider configured")
	}

	var (
		q   *quotes.Quote
		err error
	)
	switch {
	case isCash:
		q, err = s.provider.FXQuote(ctx, inst.Code, s.baseCurrency)
	case strings.Contains(symbol, "/"):
		parts := strings.SplitN(symbol, "/", 2)
		q, err = s.provider.FXQuote(ctx, parts[0], parts[1])
		if err == nil && q.Currency == "" {
			q.Currency = strings.ToUpper(parts[1])
		}
	default:
		q, err = s.provider.Quote(ctx, symbol)
	}
	if err != nil {
		return nil, err
	}
	if !q.Price.IsPositive() {
		return nil, quotes.ErrNoQuote
	}
	return q, nil
}

func (s *priceServiceImpl) storeQuote(ctx context.Context, code string, q *quotes.Quote) error {
	currency := strings.ToUpper(q.Currency)
	if currency == "" {
		// Keep whatever currency the instrument was last priced in.
		currency = s.baseCurrency
		if last, err := model.LatestPrice(ctx, s.db, code); err == nil {
			currency = last.CurrencyCode
		}
	}
	ts := q.Time
	if ts.IsZero() {
		ts = s.now()
	}
	p := &models.InstrumentPrice{
		InstrumentCode: code,
		PriceDate:      ts.Format(model.DateLayout),
		Price:          q.Price,
		CurrencyCode:   currency,
		AsOf:           model.FormatTimestamp(ts),
	}
	if err := model.UpsertPrice(ctx, s.db, p); err != nil {
		return fmt.Errorf("failed to store price: %w", err)
	}
	return nil
}

