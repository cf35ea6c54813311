package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/logger"
	"golang.org/x/net/publicsuffix"
)

const (
	yahooQueryBaseURL = "https://query1.finance.yahoo.com"
	yahooUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string   `json:"currency"`
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				PostMarketPrice    *float64 `json:"postMarketPrice"`
				PreMarketPrice     *float64 `json:"preMarketPrice"`
				RegularMarketTime  int64    `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooProvider reads the public chart endpoint. It needs a cookie session
// and a crumb, obtained lazily and refreshed after a 401.
type YahooProvider struct {
	httpClient    *http.Client
	queryBaseURL  string
	warmupURLs    []string
	mu            sync.Mutex
	crumb         string
	isInitialized bool
}

func NewYahooProvider() *YahooProvider {
	return newYahooProvider(nil, yahooQueryBaseURL, []string{"https://fc.yahoo.com", "https://finance.yahoo.com"})
}

func newYahooProvider(client *http.Client, queryBaseURL string, warmupURLs []string) *YahooProvider {
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			logger.L.Error("Failed to create cookie jar", "error", err)
		}
		client = &http.Client{Jar: jar, Timeout: 20 * time.Second}
	}
	return &YahooProvider{
		httpClient:   client,
		queryBaseURL: strings.TrimRight(queryBaseURL, "/"),
		warmupURLs:   warmupURLs,
	}
}

func (p *YahooProvider) ensureSession(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isInitialized && p.crumb != "" {
		return
	}

	logger.FromContext(ctx).Info("Initializing Yahoo Finance session and fetching crumb...")
	for _, u := range p.warmupURLs {
		if resp, err := p.get(ctx, u); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}

	resp, err := p.get(ctx, p.queryBaseURL+"/v1/test/getcrumb")
	if err != nil {
		logger.FromContext(ctx).Error("Failed to fetch crumb", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		p.crumb = strings.TrimSpace(string(body))
		p.isInitialized = true
		logger.FromContext(ctx).Info("Yahoo session initialized")
	} else {
		logger.FromContext(ctx).Warn("Failed to fetch crumb", "status", resp.Status)
	}
}

func (p *YahooProvider) resetSession() {
	p.mu.Lock()
	p.isInitialized = false
	p.crumb = ""
	p.mu.Unlock()
}

func (p *YahooProvider) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	return p.httpClient.Do(req)
}

func (p *YahooProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	return p.chart(ctx, symbol)
}

// FXQuote uses Yahoo's "<FROM><TO>=X" currency tickers.
func (p *YahooProvider) FXQuote(ctx context.Context, from, to string) (*Quote, error) {
	q, err := p.chart(ctx, strings.ToUpper(from)+strings.ToUpper(to)+"=X")
	if err != nil {
		return nil, err
	}
	q.Currency = strings.ToUpper(to)
	return q, nil
}

func (p *YahooProvider) chart(ctx context.Context, symbol string) (*Quote, error) {
	p.ensureSession(ctx)

	p.mu.Lock()
	crumb := p.crumb
	p.mu.Unlock()

	quoteURL := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", p.queryBaseURL, url.PathEscape(symbol))
	if crumb != "" {
		quoteURL += "&crumb=" + url.QueryEscape(crumb)
	}
	resp, err := p.get(ctx, quoteURL)
	if err != nil {
		return nil, fmt.Errorf("failed to call Yahoo chart API: %w", withoutURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		p.resetSession()
		return nil, fmt.Errorf("yahoo chart API returned 401, session reset")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo chart API returned status %d", resp.StatusCode)
	}

	var data yahooChartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode Yahoo chart response: %w", err)
	}
	if data.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart API error: %s", data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return nil, ErrNoQuote
	}

	meta := data.Chart.Result[0].Meta
	var price *float64
	for _, candidate := range []*float64{meta.RegularMarketPrice, meta.PostMarketPrice, meta.PreMarketPrice} {
		if candidate != nil && *candidate > 0 {
			price = candidate
			break
		}
	}
	if price == nil {
		return nil, ErrNoQuote
	}

	ts := time.Now().UTC()
	if meta.RegularMarketTime > 0 {
		ts = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	return &Quote{
		Symbol:   symbol,
		Price:    decimal.NewFromFloat(*price),
		Currency: strings.ToUpper(meta.Currency),
		Time:     ts,
	}, nil
}
