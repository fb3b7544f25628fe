// Package polymarket reads crypto prediction markets from the Polymarket
// Gamma API and reduces them to an average "Yes" probability.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/riskwatch/internal/logger"
)

// NeutralOdds is reported when no matching market is available.
const NeutralOdds = 0.5

// DefaultKeywords select crypto markets by question text.
var DefaultKeywords = []string{"bitcoin", "btc", "crypto"}

// Client provides access to Polymarket API
type Client struct {
	gammaAPIURL string
	keywords    []string
	limit       int
	maxRetries  int
	httpClient  *http.Client
}

// gammaMarket is a market as returned by the Gamma /markets endpoint.
type gammaMarket struct {
	ID            string  `json:"id"`
	Question      string  `json:"question"`
	Slug          string  `json:"slug"`
	Outcomes      string  `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices string  `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	Volume        string  `json:"volume"`
	Volume24hr    float64 `json:"volume24hr"`
}

// Market is a crypto-related market with its Yes probability.
type Market struct {
	ID             string
	Question       string
	URL            string
	YesProbability float64
	Volume         float64
}

// NewClient creates a new Polymarket client. limit is how many markets are
// requested per call before keyword filtering.
func NewClient(gammaAPIURL string, keywords []string, limit int, timeout time.Duration) *Client {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if limit <= 0 {
		limit = 100
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &Client{
		gammaAPIURL: strings.TrimRight(gammaAPIURL, "/"),
		keywords:    lowered,
		limit:       limit,
		maxRetries:  3,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchCryptoMarkets returns open markets whose question mentions one of the
// configured keywords, highest 24h volume first.
func (c *Client) FetchCryptoMarkets(ctx context.Context) ([]Market, error) {
	u, err := url.Parse(c.gammaAPIURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("closed", "false")
	q.Set("archived", "false")
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	// Response is array directly, not wrapped
	var raw []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	var markets []Market
	for _, gm := range raw {
		if !c.matches(gm.Question) {
			continue
		}
		yes, err := parseYesProbability(gm)
		if err != nil {
			logger.Debug("Skipping market %s: %v", gm.ID, err)
			continue
		}
		volume, _ := strconv.ParseFloat(gm.Volume, 64)
		markets = append(markets, Market{
			ID:             gm.ID,
			Question:       gm.Question,
			URL:            "https://polymarket.com/event/" + gm.Slug,
			YesProbability: yes,
			Volume:         volume,
		})
	}
	return markets, nil
}

// AverageOdds returns the mean Yes probability across crypto markets and the
// number of markets averaged. With no markets it returns NeutralOdds.
func (c *Client) AverageOdds(ctx context.Context) (float64, int, error) {
	markets, err := c.FetchCryptoMarkets(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(markets) == 0 {
		return NeutralOdds, 0, nil
	}

	var sum float64
	for _, m := range markets {
		sum += m.YesProbability
	}
	return sum / float64(len(markets)), len(markets), nil
}

func (c *Client) matches(question string) bool {
	q := strings.ToLower(question)
	for _, k := range c.keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

// parseYesProbability extracts the "Yes" price, falling back to the first
// outcome for non-binary markets.
func parseYesProbability(market gammaMarket) (float64, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(market.Outcomes), &outcomes); err != nil {
		return 0, fmt.Errorf("failed to parse outcomes: %w", err)
	}

	var outcomePrices []string
	if err := json.Unmarshal([]byte(market.OutcomePrices), &outcomePrices); err != nil {
		return 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}
	if len(outcomePrices) == 0 {
		return 0, fmt.Errorf("no outcome prices")
	}

	idx := 0
	for i, outcome := range outcomes {
		if strings.EqualFold(outcome, "Yes") {
			idx = i
			break
		}
	}
	if idx >= len(outcomePrices) {
		return 0, fmt.Errorf("missing price for outcome %d", idx)
	}

	price, err := strconv.ParseFloat(outcomePrices[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid outcome price %q: %w", outcomePrices[idx], err)
	}
	if price < 0 || price > 1 {
		return 0, fmt.Errorf("outcome price %v out of range", price)
	}
	return price, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
