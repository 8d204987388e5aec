package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultYahooBaseURL is the public chart API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// YahooSource reads the latest regular-market price from the chart endpoint.
type YahooSource struct {
	baseURL string
	client  *http.Client
}

// NewYahooSource creates a client against baseURL (DefaultYahooBaseURL
// when empty) with the given per-request timeout.
func NewYahooSource(baseURL string, timeout time.Duration) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string           `json:"symbol"`
				RegularMarketPrice *decimal.Decimal `json:"regularMarketPrice"`
				PreviousClose      *decimal.Decimal `json:"previousClose"`
				ChartPreviousClose *decimal.Decimal `json:"chartPreviousClose"`
				RegularMarketTime  int64            `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchQuote implements Source.
func (s *YahooSource) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d", s.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Quote{}, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return Quote{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return Quote{}, fmt.Errorf("fetch %s: unexpected status %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("read %s: %w", symbol, err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("decode %s: %w", symbol, err)
	}
	if len(parsed.Chart.Result) == 0 {
		return Quote{}, ErrNotFound
	}

	meta := parsed.Chart.Result[0].Meta
	if meta.RegularMarketPrice == nil || !meta.RegularMarketPrice.IsPositive() {
		return Quote{}, ErrNotFound
	}

	q := Quote{
		Symbol:    symbol,
		Price:     *meta.RegularMarketPrice,
		Timestamp: time.Now().UTC(),
	}
	if meta.PreviousClose != nil {
		q.PreviousClose = *meta.PreviousClose
	} else if meta.ChartPreviousClose != nil {
		q.PreviousClose = *meta.ChartPreviousClose
	}
	if meta.RegularMarketTime > 0 {
		q.Timestamp = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	return q, nil
}
