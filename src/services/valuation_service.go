package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/processors"
	"github.com/username/carteira/src/security/validation"
	"github.com/username/carteira/src/utils"
)

// PriceScale is the number of decimals kept on derived money amounts.
const PriceScale = 8

type valuationServiceImpl struct {
	db           *sql.DB
	baseCurrency string
}

func NewValuationService(db *sql.DB, baseCurrency string) ValuationService {
	return &valuationServiceImpl{db: db, baseCurrency: strings.ToUpper(baseCurrency)}
}

// Holdings values every strictly positive balance of the user at the latest
// known price of its instrument. A holding without any price is valued at
// zero and flagged PriceMissing.
func (s *valuationServiceImpl) Holdings(ctx context.Context, userEmail, accountName string) ([]models.Holding, error) {
	positions, err := model.ListPositions(ctx, s.db, userEmail, validation.SanitizeName(accountName))
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	averages, err := model.AverageBuyPrices(ctx, s.db, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load average prices: %w", err)
	}

	fx := processors.NewExchangeRateProcessor(s.db, s.baseCurrency)
	holdings := make([]models.Holding, 0, len(positions))
	for _, p := range positions {
		h := models.Holding{
			AccountName:       p.AccountName,
			ParentAccountName: p.ParentAccountName,
			InstrumentCode:    p.InstrumentCode,
			InstrumentName:    p.InstrumentName,
			InstrumentType:    p.InstrumentType,
			Quantity:          p.Quantity,
			PriceDate:         p.PriceDate,
			BaseCurrencyCode:  fx.BaseCurrency(),
		}
		if p.Price.Valid {
			h.CurrentPrice = p.Price.Decimal
			h.CurrencyCode = derefOr(p.PriceCurrency, fx.BaseCurrency())
		} else {
			h.PriceMissing = true
			h.CurrentPrice = decimal.Zero
			h.CurrencyCode = fx.BaseCurrency()
		}
		h.Valuation = h.Quantity.Mul(h.CurrentPrice).Round(PriceScale)
		if avg, ok := averages[model.PositionKey(p.AccountName, p.InstrumentCode)]; ok {
			h.AveragePrice = decimal.NewNullDecimal(avg.Round(PriceScale))
		}

		conv, err := fx.ToBase(ctx, h.Valuation, h.CurrencyCode, derefOr(p.PriceDate, ""))
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s to %s: %w", h.CurrencyCode, fx.BaseCurrency(), err)
		}
		h.ValuationBase = conv.Value.Round(PriceScale)
		h.FXRateToBase = conv.Rate
		h.FXMissing = !conv.Converted
		holdings = append(holdings, h)
	}
	return holdings, nil
}

// PortfolioTotals groups the holdings by account. Accounts without holdings
// are listed with zero totals. An amount whose currency has no rate is added
// to the base total unconverted and the account is flagged FXMissing.
func (s *valuationServiceImpl) PortfolioTotals(ctx context.Context, userEmail string) (*models.PortfolioTotals, error) {
	holdings, err := s.Holdings(ctx, userEmail, "")
	if err != nil {
		return nil, err
	}
	accounts, err := model.ListAccounts(ctx, s.db, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	byName := make(map[string]*models.AccountTotals, len(accounts))
	out := &models.PortfolioTotals{
		Accounts:         make([]models.AccountTotals, 0, len(accounts)),
		TotalValueBase:   decimal.Zero,
		BaseCurrencyCode: s.baseCurrency,
	}
	for _, a := range accounts {
		byName[a.Name] = &models.AccountTotals{
			AccountName:       a.Name,
			AccountType:       a.AccountType,
			ParentAccountName: a.ParentAccountName,
			TotalValue:        map[string]decimal.Decimal{},
			TotalValueBase:    decimal.Zero,
			BaseCurrencyCode:  s.baseCurrency,
		}
	}

	missing := make(map[string]map[string]bool)
	for _, h := range holdings {
		t, ok := byName[h.AccountName]
		if !ok {
			continue
		}
		t.TotalValue[h.CurrencyCode] = t.TotalValue[h.CurrencyCode].Add(h.Valuation)
		t.TotalValueBase = t.TotalValueBase.Add(h.ValuationBase)
		t.InstrumentsCount++
		if h.PriceDate != nil && (t.LastPriceDate == nil || *h.PriceDate > *t.LastPriceDate) {
			d := *h.PriceDate
			t.LastPriceDate = &d
		}
		if h.FXMissing {
			t.FXMissing = true
			if missing[h.AccountName] == nil {
				missing[h.AccountName] = map[string]bool{}
			}
			missing[h.AccountName][h.CurrencyCode] = true
		}
	}

	for _, a := range accounts {
		t := byName[a.Name]
		for cur := range missing[a.Name] {
			t.MissingCurrencies = append(t.MissingCurrencies, cur)
		}
		sort.Strings(t.MissingCurrencies)
		out.TotalValueBase = out.TotalValueBase.Add(t.TotalValueBase)
		out.FXMissing = out.FXMissing || t.FXMissing
		out.Accounts = append(out.Accounts, *t)
	}
	return out, nil
}

// Performance compares the two most recent prices of each instrument. With
// a single price the change is zero.
func (s *valuationServiceImpl) Performance(ctx context.Context, instrumentCode string) ([]models.InstrumentPerformance, error) {
	instrumentCode = strings.TrimSpace(instrumentCode)
	if instrumentCode != "" {
		if err := requireInstrument(ctx, s.db, instrumentCode); err != nil {
			return nil, err
		}
	}
	ranked, err := model.LatestTwoPrices(ctx, s.db, instrumentCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}

	out := make([]models.InstrumentPerformance, 0)
	for _, rp := range ranked {
		if rp.Rank == 1 {
			out = append(out, models.InstrumentPerformance{
				InstrumentCode:     rp.InstrumentCode,
				InstrumentName:     rp.InstrumentName,
				CurrencyCode:       rp.CurrencyCode,
				LatestPrice:        rp.Price,
				LatestPriceDate:    rp.PriceDate,
				PriceChangePercent: decimal.Zero,
			})
			continue
		}
		// Rows come ordered by instrument then rank, so rank 2 follows its rank 1.
		last := &out[len(out)-1]
		if last.InstrumentCode != rp.InstrumentCode {
			continue
		}
		date := rp.PriceDate
		last.PreviousPrice = decimal.NewNullDecimal(rp.Price)
		last.PreviousPriceDate = &date
		last.PriceChangePercent = utils.PercentChange(last.LatestPrice, rp.Price)
	}
	return out, nil
}

func derefOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
