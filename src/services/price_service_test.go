package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
	"github.com/username/carteira/src/services/quotes"
)

// fakeProvider answers from fixed maps and records what was asked.
type fakeProvider struct {
	quotes map[string]string
	fx     map[string]string
	asked  []string
}

func (f *fakeProvider) Quote(_ context.Context, symbol string) (*quotes.Quote, error) {
	f.asked = append(f.asked, symbol)
	p, ok := f.quotes[symbol]
	if !ok {
		return nil, quotes.ErrNoQuote
	}
	return &quotes.Quote{Symbol: symbol, Price: decimal.RequireFromString(p), Currency: "USD", Time: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeProvider) FXQuote(_ context.Context, from, to string) (*quotes.Quote, error) {
	pair := from + "/" + to
	f.asked = append(f.asked, pair)
	p, ok := f.fx[pair]
	if !ok {
		return nil, quotes.ErrNoQuote
	}
	return &quotes.Quote{Symbol: pair, Price: decimal.RequireFromString(p), Time: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)}, nil
}

func strPtr(s string) *string { return &s }

func TestPriceSyncPartialFailure(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AAPL", "stock", nil)
	seedInstrument(t, db, "GGAL", "stock", strPtr("GGAL.BA"))
	seedInstrument(t, db, "DELISTED", "stock", nil)
	provider := &fakeProvider{quotes: map[string]string{"AAPL": "190.5", "GGAL.BA": "4100"}}
	ctx := context.Background()

	result, err := NewPriceService(db, provider, "ARS", 0).Sync(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Updated)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "DELISTED"), result.Errors[0])
	assert.Contains(t, result.Errors[0], quotes.ErrNoQuote.Error())
	assert.Contains(t, provider.asked, "GGAL.BA", "external symbol is preferred over the code")

	p, err := model.LatestPrice(ctx, db, "GGAL")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", p.PriceDate)
	assert.True(t, dec("4100").Equal(p.Price))
	assert.Equal(t, "USD", p.CurrencyCode)
	assert.Equal(t, "2026-03-02T20:00:00.000Z", p.AsOf)
}

// failingProvider returns errors carrying upstream details.
type failingProvider struct{}

func (failingProvider) Quote(context.Context, string) (*quotes.Quote, error) {
	return nil, errors.New(`Get "https://quotes.example/query?apikey=SECRETKEY123": dial tcp: connection refused`)
}

func (failingProvider) FXQuote(context.Context, string, string) (*quotes.Quote, error) {
	return nil, errors.New("upstream said: internal error id 7f3a")
}

func TestPriceSyncErrorsStayGeneric(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AAPL", "stock", nil)
	seedInstrument(t, db, "USD", "cash", nil)

	result, err := NewPriceService(db, failingProvider{}, "ARS", 0).Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 2)
	for _, msg := range result.Errors {
		assert.NotContains(t, msg, "SECRETKEY123")
		assert.NotContains(t, msg, "apikey")
		assert.NotContains(t, msg, "7f3a")
		assert.Contains(t, msg, "provider unavailable")
	}
}

func TestPriceSyncCashAndPairs(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "ARS", "cash", nil)
	seedInstrument(t, db, "USD", "cash", nil)
	seedInstrument(t, db, "USD/ARS", "other", nil)
	provider := &fakeProvider{fx: map[string]string{"USD/ARS": "1050"}}
	ctx := context.Background()

	result, err := NewPriceService(db, provider, "ARS", 10).Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Updated)
	assert.Empty(t, result.Errors)
	assert.NotContains(t, provider.asked, "ARS/ARS", "the base currency is never quoted")

	base, err := model.LatestPrice(ctx, db, "ARS")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(base.Price))
	assert.Equal(t, "ARS", base.CurrencyCode)

	pair, err := model.LatestPrice(ctx, db, "USD/ARS")
	require.NoError(t, err)
	assert.True(t, dec("1050").Equal(pair.Price))
	assert.Equal(t, "ARS", pair.CurrencyCode)
}

func TestPriceSyncWithoutProvider(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AAPL", "stock", nil)
	seedInstrument(t, db, "ARS", "cash", nil)

	result, err := NewPriceService(db, nil, "ARS", 0).Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Updated)
	assert.Len(t, result.Errors, 1)
}

func TestPriceSyncRespectsLimit(t *testing.T) {
	db := newTestDB(t)
	for _, code := range []string{"A", "B", "C"} {
		seedInstrument(t, db, code, "stock", nil)
	}
	provider := &fakeProvider{quotes: map[string]string{"A": "1", "B": "2", "C": "3"}}

	result, err := NewPriceService(db, provider, "ARS", 2).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Len(t, provider.asked, 2)
}

func TestPriceUpsertReplacesSameDay(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AL30", "bond", nil)
	svc := NewPriceService(db, nil, "ARS", 0)
	ctx := context.Background()

	first, err := svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-03-02", Price: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, "ARS", first.CurrencyCode, "currency defaults to the base")

	second, err := svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-03-02", Price: dec("101"), CurrencyCode: "usd"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	recent, err := svc.RecentHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, dec("101").Equal(recent[0].Price))
	assert.Equal(t, "USD", recent[0].CurrencyCode)
}

func TestPriceUpsertValidation(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AL30", "bond", nil)
	svc := NewPriceService(db, nil, "ARS", 0)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-03-02", Price: dec("0")})
	require.ErrorIs(t, err, validation.ErrValidationFailed)
	_, err = svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-13-02", Price: dec("1")})
	require.ErrorIs(t, err, validation.ErrValidationFailed)
	_, err = svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-03-02", Price: dec("1"), AsOf: "yesterday"})
	require.ErrorIs(t, err, validation.ErrValidationFailed)
	_, err = svc.Upsert(ctx, models.PriceInput{InstrumentCode: "NOPE", PriceDate: "2026-03-02", Price: dec("1")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPriceRecentHistoryPerInstrument(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AL30", "bond", nil)
	seedInstrument(t, db, "GD30", "bond", nil)
	for _, d := range []string{"2026-03-01", "2026-03-02", "2026-03-03"} {
		seedPrice(t, db, "AL30", d, "100", "ARS")
	}
	seedPrice(t, db, "GD30", "2026-03-01", "80", "ARS")

	recent, err := NewPriceService(db, nil, "ARS", 0).RecentHistory(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	var al30Dates []string
	for _, p := range recent {
		if p.InstrumentCode == "AL30" {
			al30Dates = append(al30Dates, p.PriceDate)
		}
	}
	assert.ElementsMatch(t, []string{"2026-03-03", "2026-03-02"}, al30Dates)
}

func TestPriceUpdateAndDelete(t *testing.T) {
	db := newTestDB(t)
	seedInstrument(t, db, "AL30", "bond", nil)
	svc := NewPriceService(db, nil, "ARS", 0)
	ctx := context.Background()

	a, err := svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-03-01", Price: dec("100")})
	require.NoError(t, err)
	b, err := svc.Upsert(ctx, models.PriceInput{InstrumentCode: "AL30", PriceDate: "2026-03-02", Price: dec("105")})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, models.PriceInput{ID: b.ID, Price: dec("106")})
	require.NoError(t, err)
	assert.True(t, dec("106").Equal(updated.Price))
	assert.Equal(t, "2026-03-02", updated.PriceDate, "omitted fields keep their value")

	_, err = svc.Update(ctx, models.PriceInput{ID: b.ID, PriceDate: "2026-03-01"})
	require.ErrorIs(t, err, ErrConflict)

	_, err = svc.Update(ctx, models.PriceInput{ID: 9999, Price: dec("1")})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Update(ctx, models.PriceInput{Price: dec("1")})
	require.ErrorIs(t, err, validation.ErrValidationFailed)

	require.NoError(t, svc.Delete(ctx, a.ID))
	require.ErrorIs(t, svc.Delete(ctx, a.ID), ErrNotFound)
}
