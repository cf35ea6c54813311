package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantageProvider uses the GLOBAL_QUOTE and FX_DAILY functions.
type AlphaVantageProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewAlphaVantageProvider(apiKey string) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    alphaVantageBaseURL,
		apiKey:     apiKey,
	}
}

type alphaVantageGlobalQuote struct {
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Price            string `json:"05. price"`
		LatestTradingDay string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

type alphaVantageFXDaily struct {
	MetaData   map[string]string `json:"Meta Data"`
	TimeSeries map[string]struct {
		Close string `json:"4. close"`
	} `json:"Time Series FX (Daily)"`
}

func (p *AlphaVantageProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var data alphaVantageGlobalQuote
	if err := p.call(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, &data); err != nil {
		return nil, err
	}
	if data.GlobalQuote.Price == "" {
		return nil, ErrNoQuote
	}
	price, err := decimal.NewFromString(data.GlobalQuote.Price)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("invalid price %q from Alpha Vantage", data.GlobalQuote.Price)
	}
	return &Quote{
		Symbol: symbol,
		Price:  price,
		Time:   parseTradingDay(data.GlobalQuote.LatestTradingDay),
	}, nil
}

func (p *AlphaVantageProvider) FXQuote(ctx context.Context, from, to string) (*Quote, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	var data alphaVantageFXDaily
	params := url.Values{"function": {"FX_DAILY"}, "from_symbol": {from}, "to_symbol": {to}}
	if err := p.call(ctx, params, &data); err != nil {
		return nil, err
	}
	latest := ""
	for day := range data.TimeSeries {
		if day > latest {
			latest = day
		}
	}
	if latest == "" {
		return nil, ErrNoQuote
	}
	price, err := decimal.NewFromString(data.TimeSeries[latest].Close)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("invalid FX close %q from Alpha Vantage", data.TimeSeries[latest].Close)
	}
	return &Quote{
		Symbol:   from + "/" + to,
		Price:    price,
		Currency: to,
		Time:     parseTradingDay(latest),
	}, nil
}

// call performs a query and decodes it into out. Alpha Vantage reports
// errors and throttling with a 200 and a message field.
func (p *AlphaVantageProvider) call(ctx context.Context, params url.Values, out any) error {
	if p.apiKey == "" {
		return errors.New("alpha vantage API key is not configured")
	}
	params.Set("apikey", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call Alpha Vantage: %w", withoutURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alpha vantage returned status %d", resp.StatusCode)
	}

	var status struct {
		ErrorMessage string `json:"Error Message"`
		Note         string `json:"Note"`
		Information  string `json:"Information"`
	}
	if err := json.Unmarshal(body, &status); err == nil {
		switch {
		case status.ErrorMessage != "":
			return fmt.Errorf("alpha vantage error: %s", status.ErrorMessage)
		case status.Note != "":
			return fmt.Errorf("alpha vantage throttled: %s", status.Note)
		case status.Information != "":
			return fmt.Errorf("alpha vantage: %s", status.Information)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode Alpha Vantage response: %w", err)
	}
	return nil
}

func parseTradingDay(day string) time.Time {
	if t, err := time.Parse("2006-01-02", day); err == nil {
		return t
	}
	return time.Now().UTC()
}
