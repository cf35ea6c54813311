package quotes

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// ErrNoQuote is returned when the provider answered but had no usable price.
var ErrNoQuote = errors.New("no quote available")

// withoutURL drops the request URL from transport errors. Query strings
// carry API keys and session crumbs.
func withoutURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request failed: %w", uerr.Op, uerr.Err)
	}
	return err
}

// Quote is a single market price.
type Quote struct {
	Symbol   string
	Price    decimal.Decimal
	Currency string // may be empty when the provider does not report it
	Time     time.Time
}

// Provider fetches prices from an external market-data source.
type Provider interface {
	// Quote returns the latest price of an equity-like symbol.
	Quote(ctx context.Context, symbol string) (*Quote, error)
	// FXQuote returns how many units of to buy one unit of from.
	FXQuote(ctx context.Context, from, to string) (*Quote, error)
}

// CachedProvider memoises successful quotes for a fixed TTL.
type CachedProvider struct {
	inner Provider
	cache *cache.Cache
}

func NewCached(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	return c.get(ctx, "quote-"+strings.ToUpper(symbol), func() (*Quote, error) {
		return c.inner.Quote(ctx, symbol)
	})
}

func (c *CachedProvider) FXQuote(ctx context.Context, from, to string) (*Quote, error) {
	key := fmt.Sprintf("fx-%s-%s", strings.ToUpper(from), strings.ToUpper(to))
	return c.get(ctx, key, func() (*Quote, error) {
		return c.inner.FXQuote(ctx, from, to)
	})
}

func (c *CachedProvider) get(_ context.Context, key string, fetch func() (*Quote, error)) (*Quote, error) {
	if v, found := c.cache.Get(key); found {
		q := *v.(*Quote)
		return &q, nil
	}
	q, err := fetch()
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, q)
	out := *q
	return &out, nil
}

// New builds the provider named by name ("yahoo" or "alphavantage"),
// wrapped in a cache when ttl is positive.
func New(name, alphaVantageKey string, ttl time.Duration) (Provider, error) {
	var p Provider
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "yahoo":
		p = NewYahooProvider()
	case "alphavantage":
		p = NewAlphaVantageProvider(alphaVantageKey)
	default:
		return nil, fmt.Errorf("unknown quote provider %q", name)
	}
	if ttl > 0 {
		return NewCached(p, ttl), nil
	}
	return p, nil
}
