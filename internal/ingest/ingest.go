// Package ingest refreshes the market snapshot: it gathers price, prediction
// market and community signals in parallel, analyzes them and stores the
// result.
package ingest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/riskwatch/internal/coingecko"
	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/polymarket"
	"github.com/rewired-gh/riskwatch/internal/reddit"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

type QuoteSource interface {
	FetchQuote(ctx context.Context, coinID string) (coingecko.Quote, error)
}

type OddsSource interface {
	AverageOdds(ctx context.Context) (float64, int, error)
}

type PostSource interface {
	FetchPosts(ctx context.Context) ([]reddit.Post, error)
}

type SnapshotStore interface {
	AddSnapshot(snap *models.MarketContext) error
	RotateSnapshots() error
}

type PriceSink interface {
	SetPrice(ctx context.Context, symbol string, price float64) error
}

// Sources groups the collaborators of one cycle. Odds, Posts, Prices and
// Analyzer are optional.
type Sources struct {
	Quotes   QuoteSource
	Odds     OddsSource
	Posts    PostSource
	Store    SnapshotStore
	Prices   PriceSink
	Analyzer Analyzer
}

type Ingestor struct {
	src       Sources
	coinID    string
	symbol    string
	headlines int
	now       func() time.Time
}

func New(src Sources, coinID, symbol string) *Ingestor {
	if coinID == "" {
		coinID = "bitcoin"
	}
	if symbol == "" {
		symbol = "BTC"
	}
	return &Ingestor{src: src, coinID: coinID, symbol: symbol, headlines: 10, now: time.Now}
}

// Cycle runs one ingest pass and returns the stored snapshot. Only a failed
// price fetch or a failed insert fails the cycle; other sources degrade to
// neutral values.
func (in *Ingestor) Cycle(ctx context.Context) (*models.MarketContext, error) {
	signals, err := in.gather(ctx)
	if err != nil {
		return nil, err
	}

	analysis := in.analyze(ctx, signals)

	snap := &models.MarketContext{
		HypeScore:         analysis.HypeScore,
		Sentiment:         analysis.Sentiment,
		SentimentScore:    signals.SentimentScore(),
		PriceChange24h:    signals.PriceChange24h,
		PolymarketAvgOdds: signals.PolymarketAvgOdds,
		BTCPrice:          signals.BTCPrice,
		Summary:           analysis.Summary,
		CreatedAt:         in.now(),
	}
	snap.RiskScore = risk.Score(*snap)

	if err := in.src.Store.AddSnapshot(snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	if err := in.src.Store.RotateSnapshots(); err != nil {
		logger.Warn("Failed to rotate snapshots: %v", err)
	}

	if in.src.Prices != nil {
		if err := in.src.Prices.SetPrice(ctx, in.symbol, signals.BTCPrice); err != nil {
			logger.Warn("Failed to publish %s price: %v", in.symbol, err)
		}
	}

	logger.Info("Ingested snapshot %d: BTC $%.2f (%+.2f%%), odds %.3f, sentiment %s (%d), hype %d, risk %d",
		snap.ID, snap.BTCPrice, snap.PriceChange24h, snap.PolymarketAvgOdds,
		snap.Sentiment, snap.SentimentScore, snap.HypeScore, snap.RiskScore)
	return snap, nil
}

func (in *Ingestor) gather(ctx context.Context) (models.MarketSignals, error) {
	signals := models.MarketSignals{PolymarketAvgOdds: polymarket.NeutralOdds}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q, err := in.src.Quotes.FetchQuote(gctx, in.coinID)
		if err != nil {
			return fmt.Errorf("failed to fetch %s quote: %w", in.coinID, err)
		}
		signals.BTCPrice = q.Price
		signals.PriceChange24h = q.Change24h
		return nil
	})

	var odds float64
	var markets int
	if in.src.Odds != nil {
		g.Go(func() error {
			o, n, err := in.src.Odds.AverageOdds(gctx)
			if err != nil {
				logger.Warn("Polymarket unavailable, using neutral odds: %v", err)
				return nil
			}
			odds, markets = o, n
			return nil
		})
	}

	var posts []reddit.Post
	if in.src.Posts != nil {
		g.Go(func() error {
			p, err := in.src.Posts.FetchPosts(gctx)
			if err != nil {
				logger.Warn("Reddit unavailable, sentiment tally skipped: %v", err)
				return nil
			}
			posts = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return models.MarketSignals{}, err
	}

	if markets > 0 {
		signals.PolymarketAvgOdds = odds
		signals.PolymarketMarkets = markets
	}
	signals.BullishCount, signals.BearishCount = reddit.Tally(posts)
	for i := 0; i < len(posts) && i < in.headlines; i++ {
		signals.Headlines = append(signals.Headlines, posts[i].Title)
	}
	return signals, nil
}

func (in *Ingestor) analyze(ctx context.Context, signals models.MarketSignals) models.Analysis {
	if in.src.Analyzer != nil {
		a, err := in.src.Analyzer.Analyze(ctx, signals)
		if err == nil {
			return a
		}
		logger.Warn("Model analysis failed, using heuristic: %v", err)
	}
	return analyze(signals)
}
