// Package risk computes the composite 0–100 risk score for a market snapshot
// and classifies threshold crossings.
package risk

import (
	"math"

	"github.com/rewired-gh/riskwatch/internal/models"
)

const (
	sentimentWeight  = 0.3
	technicalWeight  = 0.3
	polymarketWeight = 0.4
	panicBonus       = 15
	collapseBonus    = 20
	collapseOdds     = 0.3
)

// Score returns the weighted risk score for c, clamped to [0,100].
func Score(c models.MarketContext) int {
	raw := sentimentWeight*float64(SentimentComponent(c.SentimentScore)) +
		technicalWeight*float64(TechnicalComponent(c.PriceChange24h)) +
		polymarketWeight*float64(PolymarketComponent(c.PolymarketAvgOdds))

	if c.Sentiment == models.SentimentPanic {
		raw += panicBonus
	}

	return models.ClampScore(int(math.Round(raw)))
}

// SentimentComponent maps net bullish-minus-bearish counts to a risk value.
func SentimentComponent(score int) int {
	switch {
	case score < -10:
		return 90
	case score < -5:
		return 70
	case score < 0:
		return 50
	case score < 5:
		return 30
	default:
		return 10
	}
}

// TechnicalComponent maps a 24h percentage change to a risk value.
func TechnicalComponent(change float64) int {
	switch {
	case change <= -5:
		return 100
	case change <= -3:
		return 80
	case change <= -1:
		return 60
	case change < 0:
		return 40
	case change < 3:
		return 20
	default:
		return 10
	}
}

// PolymarketComponent maps divergence from neutral odds to a risk value.
// Collapsing odds add a bonus on top of the divergence value.
func PolymarketComponent(odds float64) int {
	divergence := math.Abs(odds - 0.5)

	var v int
	switch {
	case divergence > 0.35:
		v = 90
	case divergence > 0.25:
		v = 70
	case divergence > 0.15:
		v = 50
	default:
		v = 30
	}

	if odds < collapseOdds {
		v += collapseBonus
		if v > 100 {
			v = 100
		}
	}
	return v
}
