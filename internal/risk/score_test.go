package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rewired-gh/riskwatch/internal/models"
)

func TestScore_PanicCrash(t *testing.T) {
	got := Score(models.MarketContext{
		SentimentScore:    -12,
		PriceChange24h:    -6,
		PolymarketAvgOdds: 0.1,
		Sentiment:         models.SentimentPanic,
	})
	assert.Equal(t, 100, got)
}

func TestScore_CalmBull(t *testing.T) {
	got := Score(models.MarketContext{
		SentimentScore:    8,
		PriceChange24h:    4,
		PolymarketAvgOdds: 0.5,
		Sentiment:         models.SentimentBullish,
	})
	assert.Equal(t, 18, got)
}

func TestScore_PanicBonus(t *testing.T) {
	base := models.MarketContext{
		SentimentScore:    2,
		PriceChange24h:    1,
		PolymarketAvgOdds: 0.55,
		Sentiment:         models.SentimentBearish,
	}
	panicked := base
	panicked.Sentiment = models.SentimentPanic

	assert.Equal(t, Score(base)+15, Score(panicked))

	// Near the ceiling the bonus clamps.
	hot := models.MarketContext{SentimentScore: -20, PriceChange24h: -10, PolymarketAvgOdds: 0.95}
	hotPanic := hot
	hotPanic.Sentiment = models.SentimentPanic
	assert.Equal(t, 100, Score(hotPanic))
	assert.LessOrEqual(t, Score(hot), 100)
}

func TestScore_AlwaysInRange(t *testing.T) {
	sentiments := []int{-1000, -11, -6, -1, 0, 4, 5, 1000}
	changes := []float64{-1e6, -5, -3, -1, -0.01, 0, 2.99, 3, 1e6}
	odds := []float64{0, 0.1, 0.29, 0.3, 0.5, 0.66, 0.76, 0.86, 1}
	moods := []models.Sentiment{models.SentimentBullish, models.SentimentBearish, models.SentimentPanic}

	for _, s := range sentiments {
		for _, c := range changes {
			for _, o := range odds {
				for _, m := range moods {
					got := Score(models.MarketContext{SentimentScore: s, PriceChange24h: c, PolymarketAvgOdds: o, Sentiment: m})
					if got < 0 || got > 100 {
						t.Fatalf("score %d out of range for s=%d c=%v o=%v m=%s", got, s, c, o, m)
					}
				}
			}
		}
	}
}

func TestSentimentComponent(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-11, 90}, {-10, 70}, {-6, 70}, {-5, 50}, {-1, 50}, {0, 30}, {4, 30}, {5, 10}, {50, 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SentimentComponent(c.in), "sentiment score %d", c.in)
	}
}

func TestTechnicalComponent(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-8, 100}, {-5, 100}, {-4, 80}, {-3, 80}, {-2, 60}, {-1, 60}, {-0.5, 40}, {0, 20}, {2.9, 20}, {3, 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TechnicalComponent(c.in), "change %v", c.in)
	}
}

func TestPolymarketComponent(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0.5, 30},
		{0.6, 30},
		{0.7, 50},
		{0.8, 70},
		{0.9, 90},
		{0.25, 70}, // divergence 0.25 -> 50, collapse bonus +20
		{0.1, 100}, // 90 + 20 capped
		{0.29, 70}, // divergence 0.21 -> 50, +20
		{0.3, 50},  // divergence 0.2, no collapse bonus
		{0.0, 100}, // 90 + 20 capped
		{1.0, 90},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PolymarketComponent(c.in), "odds %v", c.in)
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	assert.Equal(t, TriggerRiskCritical, th.Classify(models.MarketContext{RiskScore: 80, HypeScore: 95}))
	assert.Equal(t, TriggerHypeExtreme, th.Classify(models.MarketContext{RiskScore: 79, HypeScore: 90}))
	assert.Equal(t, TriggerNone, th.Classify(models.MarketContext{RiskScore: 79, HypeScore: 89}))
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "Low", Level(39))
	assert.Equal(t, "Medium", Level(40))
	assert.Equal(t, "Medium", Level(69))
	assert.Equal(t, "High", Level(70))
}
