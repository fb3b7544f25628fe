// Package models defines the core domain entities: market context snapshots,
// anomalies, and alert payloads.
package models

import (
	"errors"
	"time"
)

// Sentiment is the categorical community mood attached to a snapshot.
type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentPanic   Sentiment = "PANIC"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentBullish, SentimentBearish, SentimentPanic:
		return true
	}
	return false
}

// MarketContext is one aggregated market state row produced by the ingest cycle.
// RiskScore is rewritten by the monitor loop; HypeScore comes from upstream analysis.
type MarketContext struct {
	ID                int64     `json:"id"`
	RiskScore         int       `json:"risk_score"`
	HypeScore         int       `json:"hype_score"`
	Sentiment         Sentiment `json:"sentiment"`
	SentimentScore    int       `json:"sentiment_score"`
	PriceChange24h    float64   `json:"price_change_24h"`
	PolymarketAvgOdds float64   `json:"polymarket_avg_odds"`
	BTCPrice          float64   `json:"btc_price"`
	Summary           string    `json:"summary,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Validate checks snapshot field constraints.
func (c *MarketContext) Validate() error {
	if c.RiskScore < 0 || c.RiskScore > 100 {
		return errors.New("risk score must be between 0 and 100")
	}
	if c.HypeScore < 0 || c.HypeScore > 100 {
		return errors.New("hype score must be between 0 and 100")
	}
	if !c.Sentiment.Valid() {
		return errors.New("sentiment must be one of BULLISH, BEARISH, PANIC")
	}
	if c.PolymarketAvgOdds < 0.0 || c.PolymarketAvgOdds > 1.0 {
		return errors.New("polymarket average odds must be between 0.0 and 1.0")
	}
	if c.BTCPrice < 0 {
		return errors.New("btc price must not be negative")
	}
	if c.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	return nil
}

// ClampScore bounds a score to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
