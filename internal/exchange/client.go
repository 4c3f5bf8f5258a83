// Package exchange implements the REST client for the exchange's public
// market-data endpoints: the market listing and the OHLC candle endpoint.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinwatch/internal/model"
)

const defaultTimeout = 10 * time.Second

// Config configures the exchange client.
type Config struct {
	// BaseURL of the exchange REST API, e.g. "https://api.exchange.example".
	BaseURL string

	// QuotePrefix filters the market listing, e.g. "KRW-". Empty keeps all.
	QuotePrefix string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// Client talks to the exchange REST API.
type Client struct {
	baseURL     string
	quotePrefix string
	http        *http.Client
}

// New creates an exchange client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		quotePrefix: cfg.QuotePrefix,
		http:        &http.Client{Timeout: timeout},
	}
}

// marketEntry is one row of the listing endpoint response.
type marketEntry struct {
	Market string `json:"market"`
}

// Markets returns all tradable symbols from the listing endpoint, filtered
// to the configured quote prefix.
func (c *Client) Markets(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/market/all", nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: create listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: list markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: list markets: unexpected status %d", resp.StatusCode)
	}

	var entries []marketEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("exchange: decode listing: %w", err)
	}

	markets := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Market == "" {
			continue
		}
		if c.quotePrefix != "" && !strings.HasPrefix(e.Market, c.quotePrefix) {
			continue
		}
		markets = append(markets, e.Market)
	}
	return markets, nil
}

// Candles fetches up to count candles for one market ending at reference.
// reference must already be floored to the granularity boundary; the request
// covers [reference-(count-1)*interval, reference+interval), i.e. the end
// parameter is interval-exclusive so the in-progress candle is included.
func (c *Client) Candles(ctx context.Context, market string, g model.Granularity, count int, reference time.Time) ([]model.Candle, error) {
	interval := g.Interval()
	start := reference.Add(-time.Duration(count-1) * interval)
	end := reference.Add(interval)

	q := url.Values{}
	q.Set("symbol", market)
	q.Set("granularity", string(g))
	q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: create candle request for %s: %w", market, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: fetch candles for %s: %w", market, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: fetch candles for %s: unexpected status %d", market, resp.StatusCode)
	}

	// Each row is [timestamp_ms, open, high, low, close, volume, quote_amount].
	var rows [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("exchange: decode candles for %s: %w", market, err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("exchange: malformed candle row for %s: %d fields", market, len(row))
		}
		ts := time.Unix(0, int64(row[0])*int64(time.Millisecond)).UTC()
		candles = append(candles, model.Candle{
			Market:      market,
			TS:          g.Floor(ts),
			Granularity: g,
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
			Volume:      row[5],
			Amount:      row[6],
		})
	}
	return candles, nil
}
