package processors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
)

// RateDivisionPrecision is the number of digits kept when inverting a rate.
const RateDivisionPrecision = 12

// Conversion is the result of expressing an amount in the base currency.
// When Converted is false no rate was found and Value is the unconverted amount.
type Conversion struct {
	Value     decimal.Decimal
	Rate      decimal.NullDecimal
	Converted bool
}

// FXPairCode is the instrument code under which the price of one unit of
// from, expressed in to, is stored (e.g. "USD/ARS").
func FXPairCode(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}

// ExchangeRateProcessor resolves currency rates from the price store. Rates
// are treated as prices of synthetic instruments, so no external call is ever
// made here. Lookups are memoised for the lifetime of the processor, which is
// meant to be a single valuation request.
type ExchangeRateProcessor struct {
	db           model.DBTX
	baseCurrency string
	rateCache    *cache.Cache
}

func NewExchangeRateProcessor(db model.DBTX, baseCurrency string) *ExchangeRateProcessor {
	return &ExchangeRateProcessor{
		db:           db,
		baseCurrency: strings.ToUpper(baseCurrency),
		rateCache:    cache.New(cache.NoExpiration, 0),
	}
}

func (p *ExchangeRateProcessor) BaseCurrency() string { return p.baseCurrency }

type cachedRate struct {
	rate  decimal.Decimal
	found bool
}

// RateToBase returns the number of base-currency units per unit of currency,
// preferring a rate dated on or before date. date may be empty.
//
// Lookup order: the CUR/BASE pair instrument, the inverse BASE/CUR pair, then
// a cash instrument coded CUR that is priced in the base currency.
func (p *ExchangeRateProcessor) RateToBase(ctx context.Context, currency, date string) (decimal.Decimal, bool, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == p.baseCurrency {
		return decimal.NewFromInt(1), true, nil
	}

	cacheKey := fmt.Sprintf("rate-%s-%s-%s", currency, p.baseCurrency, date)
	if v, found := p.rateCache.Get(cacheKey); found {
		c := v.(cachedRate)
		return c.rate, c.found, nil
	}

	rate, found, err := p.lookup(ctx, currency, date)
	if err != nil {
		return decimal.Zero, false, err
	}
	p.rateCache.Set(cacheKey, cachedRate{rate: rate, found: found}, cache.NoExpiration)
	if !found {
		logger.FromContext(ctx).Warn("No FX rate available, amount left unconverted", "currency", currency, "baseCurrency", p.baseCurrency, "date", date)
	}
	return rate, found, nil
}

func (p *ExchangeRateProcessor) lookup(ctx context.Context, currency, date string) (decimal.Decimal, bool, error) {
	if price, err := p.pairPrice(ctx, FXPairCode(currency, p.baseCurrency), date); err != nil {
		return decimal.Zero, false, err
	} else if price != nil {
		return price.Price, true, nil
	}

	if price, err := p.pairPrice(ctx, FXPairCode(p.baseCurrency, currency), date); err != nil {
		return decimal.Zero, false, err
	} else if price != nil && price.Price.IsPositive() {
		return decimal.NewFromInt(1).DivRound(price.Price, RateDivisionPrecision), true, nil
	}

	cash, err := model.LatestPrice(ctx, p.db, currency)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, err
	}
	if cash != nil && strings.EqualFold(cash.CurrencyCode, p.baseCurrency) {
		inst, err := model.GetInstrument(ctx, p.db, currency)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, err
		}
		if inst != nil && inst.InstrumentTypeCode == models.CashInstrumentType {
			return cash.Price, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// pairPrice returns the price of a pair instrument on or before date, falling
// back to its latest price. A nil price means the pair was never priced.
func (p *ExchangeRateProcessor) pairPrice(ctx context.Context, code, date string) (*models.InstrumentPrice, error) {
	if date != "" {
		price, err := model.LatestPriceOnOrBefore(ctx, p.db, code, date)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	price, err := model.LatestPrice(ctx, p.db, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return price, err
}

// ToBase converts amount from currency into the base currency.
func (p *ExchangeRateProcessor) ToBase(ctx context.Context, amount decimal.Decimal, currency, date string) (Conversion, error) {
	rate, found, err := p.RateToBase(ctx, currency, date)
	if err != nil {
		return Conversion{}, err
	}
	if !found {
		return Conversion{Value: amount}, nil
	}
	return Conversion{
		Value:     amount.Mul(rate),
		Rate:      decimal.NewNullDecimal(rate),
		Converted: true,
	}, nil
}
