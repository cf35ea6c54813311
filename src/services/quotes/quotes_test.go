package quotes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYahooServer(t *testing.T, chart http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var crumbCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/test/getcrumb", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&crumbCalls, 1)
		fmt.Fprint(w, "abc123")
	})
	mux.HandleFunc("/v8/finance/chart/", chart)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &crumbCalls
}

func TestYahooQuote(t *testing.T) {
	srv, crumbCalls := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/GGAL.BA", r.URL.Path)
		assert.Equal(t, "abc123", r.URL.Query().Get("crumb"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"currency":"ars","symbol":"GGAL.BA","regularMarketPrice":4125.5,"regularMarketTime":1772481600}}],"error":null}}`)
	})
	p := newYahooProvider(srv.Client(), srv.URL, nil)

	q, err := p.Quote(context.Background(), " GGAL.BA ")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4125.5").Equal(q.Price))
	assert.Equal(t, "ARS", q.Currency)
	assert.Equal(t, time.Unix(1772481600, 0).UTC(), q.Time)

	_, err = p.Quote(context.Background(), "GGAL.BA")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(crumbCalls), "the crumb is fetched once")
}

func TestYahooFXQuoteAndFallbackPrices(t *testing.T) {
	srv, _ := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/USDARS=X", r.URL.Path)
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"regularMarketPrice":0,"postMarketPrice":1050.25}}]}}`)
	})
	p := newYahooProvider(srv.Client(), srv.URL, nil)

	q, err := p.FXQuote(context.Background(), "usd", "ars")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1050.25").Equal(q.Price))
	assert.Equal(t, "ARS", q.Currency)
}

func TestYahooErrors(t *testing.T) {
	var status int32 = http.StatusOK
	body := `{"chart":{"result":[]}}`
	srv, crumbCalls := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
		fmt.Fprint(w, body)
	})
	p := newYahooProvider(srv.Client(), srv.URL, nil)
	ctx := context.Background()

	_, err := p.Quote(ctx, "NOPE")
	require.ErrorIs(t, err, ErrNoQuote)

	_, err = p.Quote(ctx, "")
	require.Error(t, err)

	atomic.StoreInt32(&status, http.StatusUnauthorized)
	_, err = p.Quote(ctx, "AAPL")
	require.Error(t, err)

	// The 401 forces a new crumb on the next call.
	atomic.StoreInt32(&status, http.StatusInternalServerError)
	_, err = p.Quote(ctx, "AAPL")
	require.ErrorContains(t, err, "status 500")
	assert.EqualValues(t, 2, atomic.LoadInt32(crumbCalls))
}

func newAlphaVantage(t *testing.T, handler http.HandlerFunc) *AlphaVantageProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewAlphaVantageProvider("demo")
	p.httpClient = srv.Client()
	p.baseURL = srv.URL
	return p
}

func TestAlphaVantageQuote(t *testing.T) {
	p := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "IBM", r.URL.Query().Get("symbol"))
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		fmt.Fprint(w, `{"Global Quote":{"01. symbol":"IBM","05. price":"231.4000","07. latest trading day":"2026-03-02"}}`)
	})

	q, err := p.Quote(context.Background(), "IBM")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("231.4").Equal(q.Price))
	assert.Empty(t, q.Currency)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), q.Time)
}

func TestAlphaVantageFXQuotePicksLatestDay(t *testing.T) {
	p := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FX_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "EUR", r.URL.Query().Get("from_symbol"))
		assert.Equal(t, "USD", r.URL.Query().Get("to_symbol"))
		fmt.Fprint(w, `{"Meta Data":{},"Time Series FX (Daily)":{
			"2026-02-27":{"4. close":"1.0810"},
			"2026-03-02":{"4. close":"1.0850"},
			"2026-02-26":{"4. close":"1.0790"}}}`)
	})

	q, err := p.FXQuote(context.Background(), "eur", "usd")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.085").Equal(q.Price))
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "EUR/USD", q.Symbol)
}

func TestAlphaVantageErrors(t *testing.T) {
	tests := map[string]string{
		"error message": `{"Error Message":"Invalid API call."}`,
		"throttled":     `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`,
		"information":   `{"Information":"premium endpoint"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			p := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) })
			_, err := p.Quote(context.Background(), "IBM")
			require.Error(t, err)
		})
	}

	empty := newAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"Global Quote":{}}`) })
	_, err := empty.Quote(context.Background(), "IBM")
	require.ErrorIs(t, err, ErrNoQuote)

	_, err = NewAlphaVantageProvider("").Quote(context.Background(), "IBM")
	require.ErrorContains(t, err, "API key")
}

func TestAlphaVantageTransportErrorHidesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	p := NewAlphaVantageProvider("SECRETKEY123")
	p.httpClient = &http.Client{Timeout: time.Second}
	p.baseURL = srv.URL

	_, err := p.Quote(context.Background(), "IBM")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRETKEY123")
	assert.NotContains(t, err.Error(), "apikey")

	_, err = p.FXQuote(context.Background(), "EUR", "USD")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRETKEY123")
}

type countingProvider struct {
	calls int
}

func (c *countingProvider) Quote(_ context.Context, symbol string) (*Quote, error) {
	c.calls++
	if symbol == "FAIL" {
		return nil, ErrNoQuote
	}
	return &Quote{Symbol: symbol, Price: decimal.NewFromInt(int64(c.calls))}, nil
}

func (c *countingProvider) FXQuote(_ context.Context, from, to string) (*Quote, error) {
	c.calls++
	return &Quote{Symbol: from + "/" + to, Price: decimal.NewFromInt(int64(c.calls))}, nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	p := NewCached(inner, time.Minute)
	ctx := context.Background()

	first, err := p.Quote(ctx, "aapl")
	require.NoError(t, err)
	first.Price = decimal.NewFromInt(999)

	second, err := p.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(second.Price), "callers get copies of the cached quote")
	assert.Equal(t, 1, inner.calls)

	_, err = p.FXQuote(ctx, "usd", "ars")
	require.NoError(t, err)
	_, err = p.FXQuote(ctx, "USD", "ARS")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	for i := 0; i < 2; i++ {
		_, err = p.Quote(ctx, "FAIL")
		require.ErrorIs(t, err, ErrNoQuote)
	}
	assert.Equal(t, 4, inner.calls, "failures are not cached")
}

func TestNew(t *testing.T) {
	p, err := New("", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &YahooProvider{}, p)

	p, err = New("AlphaVantage", "key", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &CachedProvider{}, p)

	_, err = New("bloomberg", "", 0)
	require.Error(t, err)
}
