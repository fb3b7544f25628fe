package models

// MarketSignals is the raw input gathered by one ingest cycle.
type MarketSignals struct {
	BTCPrice          float64  `json:"btc_price"`
	PriceChange24h    float64  `json:"price_change_24h"`
	PolymarketAvgOdds float64  `json:"polymarket_avg_odds"`
	PolymarketMarkets int      `json:"polymarket_markets"`
	BullishCount      int      `json:"bullish_count"`
	BearishCount      int      `json:"bearish_count"`
	Headlines         []string `json:"headlines,omitempty"`
}

// SentimentScore is the bullish minus bearish keyword tally.
func (s MarketSignals) SentimentScore() int {
	return s.BullishCount - s.BearishCount
}

// Analysis is the interpretation layered on top of MarketSignals.
type Analysis struct {
	HypeScore int       `json:"hype_score"`
	Sentiment Sentiment `json:"sentiment"`
	Summary   string    `json:"summary"`
}
