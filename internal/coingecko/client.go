// Package coingecko fetches spot prices and 24h change from the CoinGecko
// simple price endpoint.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Quote is the USD market data for one coin.
type Quote struct {
	CoinID    string
	Price     float64
	Change24h float64 // percent
	Volume24h float64
	UpdatedAt time.Time
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type simplePrice struct {
	USD           float64 `json:"usd"`
	USD24hChange  float64 `json:"usd_24h_change"`
	USD24hVol     float64 `json:"usd_24h_vol"`
	LastUpdatedAt int64   `json:"last_updated_at"`
}

// FetchQuotes returns quotes keyed by CoinGecko coin id. Ids the API does
// not know are omitted.
func (c *Client) FetchQuotes(ctx context.Context, coinIDs ...string) (map[string]Quote, error) {
	if len(coinIDs) == 0 {
		return map[string]Quote{}, nil
	}

	u, err := url.Parse(c.baseURL + "/simple/price")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("ids", strings.Join(coinIDs, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")
	q.Set("include_last_updated_at", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var raw map[string]simplePrice
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode prices: %w", err)
	}

	quotes := make(map[string]Quote, len(raw))
	for id, p := range raw {
		if p.USD <= 0 {
			continue
		}
		quotes[id] = Quote{
			CoinID:    id,
			Price:     p.USD,
			Change24h: p.USD24hChange,
			Volume24h: p.USD24hVol,
			UpdatedAt: time.Unix(p.LastUpdatedAt, 0),
		}
	}
	return quotes, nil
}

// FetchQuote returns the quote for a single coin.
func (c *Client) FetchQuote(ctx context.Context, coinID string) (Quote, error) {
	quotes, err := c.FetchQuotes(ctx, coinID)
	if err != nil {
		return Quote{}, err
	}
	q, ok := quotes[coinID]
	if !ok {
		return Quote{}, fmt.Errorf("no price returned for %s", coinID)
	}
	return q, nil
}
