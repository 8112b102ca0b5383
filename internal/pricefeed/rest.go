package pricefeed

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

// ticker24h is one entry of GET /api/v3/ticker/24hr.
type ticker24h struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	Volume             decimal.Decimal `json:"volume"`
	CloseTime          int64           `json:"closeTime"`
}

// RESTClient fetches 24h ticker snapshots from a Binance-compatible API.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

// NewRESTClient creates a REST client. A nil httpClient gets a 10s timeout.
func NewRESTClient(baseURL string, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTClient{baseURL: baseURL, http: httpClient}
}

// Tickers fetches the 24h ticker for the given exchange symbols in one call.
func (c *RESTClient) Tickers(ctx context.Context, symbols []string) ([]ticker24h, error) {
	list, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/api/v3/ticker/24hr?symbols=%s", c.baseURL, url.QueryEscape(string(list)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticker snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ticker snapshot: status %d: %s", resp.StatusCode, body)
	}

	var out []ticker24h
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ticker snapshot: %w", err)
	}
	return out, nil
}
