package ingest

import (
	"context"
	"fmt"
	"math"

	"github.com/rewired-gh/riskwatch/internal/models"
)

// Analyzer turns raw signals into hype and sentiment.
type Analyzer interface {
	Analyze(ctx context.Context, signals models.MarketSignals) (models.Analysis, error)
}

const (
	panicSentimentScore = -10
	panicPriceChange    = -8.0
)

// Heuristic is the keyword-and-price fallback used when no model is
// configured or the model call fails.
type Heuristic struct{}

func (Heuristic) Analyze(_ context.Context, s models.MarketSignals) (models.Analysis, error) {
	return analyze(s), nil
}

func analyze(s models.MarketSignals) models.Analysis {
	score := s.SentimentScore()

	var sentiment models.Sentiment
	switch {
	case score < panicSentimentScore || s.PriceChange24h <= panicPriceChange:
		sentiment = models.SentimentPanic
	case score < 0:
		sentiment = models.SentimentBearish
	default:
		sentiment = models.SentimentBullish
	}

	hype := math.Abs(float64(score))*5 + math.Abs(s.PriceChange24h)*6
	return models.Analysis{
		HypeScore: models.ClampScore(int(math.Round(hype))),
		Sentiment: sentiment,
		Summary: fmt.Sprintf("%d bullish vs %d bearish posts, BTC %+.2f%% in 24h",
			s.BullishCount, s.BearishCount, s.PriceChange24h),
	}
}
