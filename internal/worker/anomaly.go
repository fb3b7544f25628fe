package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/riskwatch/internal/alert"
	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/monitor"
)

// Metric keys tracked by the anomaly loop.
const (
	MetricPortfolioBalance = "portfolio_balance"
	MetricBTCPrice         = "btc_price"
	MetricRiskScore        = "risk_score"
	MetricPriceChange24h   = "price_change_24h"
)

// PriceSource reads live prices by symbol.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

type PortfolioSource interface {
	GetPortfolioBalance() (float64, bool, error)
}

type SnapshotReader interface {
	GetLatestSnapshot() (*models.MarketContext, error)
}

type AnomalyObserver interface {
	AnomalyDetected(metric, severity string)
}

// AnomalyConfig holds the per-metric rate-of-change thresholds (fractions)
// and the fixed price band.
type AnomalyConfig struct {
	Symbols          []string
	PriceRate        float64
	PortfolioRate    float64
	BTCRate          float64
	RiskRate         float64
	ChangeRate       float64
	ExtremeChangePct float64
	BandSymbol       string
	Band             monitor.PriceBand
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		Symbols:          []string{"BTC"},
		PriceRate:        0.05,
		PortfolioRate:    0.05,
		BTCRate:          0.03,
		RiskRate:         0.20,
		ChangeRate:       0.50,
		ExtremeChangePct: 5.0,
		BandSymbol:       "BTC",
		Band:             monitor.DefaultPriceBand(),
	}
}

// AnomalySources are the collaborators the anomaly loop reads. Any may be nil.
type AnomalySources struct {
	Prices    PriceSource
	Portfolio PortfolioSource
	Snapshots SnapshotReader
}

// AnomalyWorker runs the detector over live prices, the portfolio balance
// and the latest snapshot, then offers the findings to the dispatcher.
type AnomalyWorker struct {
	config     AnomalyConfig
	detector   *monitor.Detector
	sources    AnomalySources
	dispatcher *alert.Dispatcher
	delivery   *Delivery
	observer   AnomalyObserver
}

func NewAnomalyWorker(config AnomalyConfig, detector *monitor.Detector, sources AnomalySources,
	dispatcher *alert.Dispatcher, delivery *Delivery, observer AnomalyObserver) *AnomalyWorker {
	return &AnomalyWorker{
		config:     config,
		detector:   detector,
		sources:    sources,
		dispatcher: dispatcher,
		delivery:   delivery,
		observer:   observer,
	}
}

// Cycle collects anomalies from every source that answered. Source failures
// are returned joined after whatever was found has been dispatched.
func (w *AnomalyWorker) Cycle(ctx context.Context) error {
	var (
		anomalies []models.Anomaly
		errs      []error
	)

	snap, err := w.latestSnapshot()
	if err != nil {
		errs = append(errs, err)
	}

	live, err := w.checkLivePrices(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	anomalies = append(anomalies, live...)

	if a, err := w.checkPortfolio(); err != nil {
		errs = append(errs, err)
	} else if a != nil {
		anomalies = append(anomalies, *a)
	}

	anomalies = append(anomalies, w.checkSnapshot(snap)...)

	if len(anomalies) > 0 {
		logger.Warn("%d significant anomaly(ies) detected", len(anomalies))
		for _, a := range anomalies {
			if w.observer != nil {
				w.observer.AnomalyDetected(a.Metric, string(a.Severity))
			}
		}
		if payload := w.dispatcher.MaybeDispatch(anomalies, snap); payload != nil {
			w.delivery.Deliver(payload)
		}
	}

	return errors.Join(errs...)
}

func (w *AnomalyWorker) latestSnapshot() (*models.MarketContext, error) {
	if w.sources.Snapshots == nil {
		return nil, nil
	}
	snap, err := w.sources.Snapshots.GetLatestSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return snap, nil
}

func (w *AnomalyWorker) checkLivePrices(ctx context.Context) ([]models.Anomaly, error) {
	if w.sources.Prices == nil || len(w.config.Symbols) == 0 {
		return nil, nil
	}
	prices, err := w.sources.Prices.Prices(ctx, w.config.Symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to read live prices: %w", err)
	}

	var found []models.Anomaly
	for _, symbol := range w.config.Symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}
		if strings.EqualFold(symbol, w.config.BandSymbol) {
			if a := w.config.Band.Check(price); a != nil {
				a.Context = fmt.Sprintf("Live %s price outside band: $%s", symbol, humanize.CommafWithDigits(price, 2))
				found = append(found, *a)
			}
		}
		metric := "price_" + strings.ToLower(symbol)
		if a := w.detector.Detect(metric, price, w.config.PriceRate); a != nil && a.Severity.Significant() {
			a.Context = fmt.Sprintf("Live %s price anomaly: $%s", symbol, humanize.CommafWithDigits(price, 2))
			found = append(found, *a)
		}
	}
	return found, nil
}

func (w *AnomalyWorker) checkPortfolio() (*models.Anomaly, error) {
	if w.sources.Portfolio == nil {
		return nil, nil
	}
	balance, ok, err := w.sources.Portfolio.GetPortfolioBalance()
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio balance: %w", err)
	}
	if !ok {
		return nil, nil
	}
	a := w.detector.Detect(MetricPortfolioBalance, balance, w.config.PortfolioRate)
	if a == nil || !a.Severity.Significant() {
		return nil, nil
	}
	a.Context = fmt.Sprintf("Portfolio balance anomaly: $%s", humanize.CommafWithDigits(balance, 2))
	return a, nil
}

func (w *AnomalyWorker) checkSnapshot(snap *models.MarketContext) []models.Anomaly {
	if snap == nil {
		return nil
	}
	var found []models.Anomaly

	if snap.BTCPrice > 0 {
		if a := w.detector.Detect(MetricBTCPrice, snap.BTCPrice, w.config.BTCRate); a != nil && a.Severity.Significant() {
			a.Context = fmt.Sprintf("BTC price anomaly: $%s", humanize.CommafWithDigits(snap.BTCPrice, 2))
			found = append(found, *a)
		}
	}

	if snap.RiskScore > 0 {
		if a := w.detector.Detect(MetricRiskScore, float64(snap.RiskScore), w.config.RiskRate); a != nil && a.Severity == models.SeverityHigh {
			a.Context = fmt.Sprintf("Risk score spike: %d/100", snap.RiskScore)
			found = append(found, *a)
		}
	}

	if change := math.Abs(snap.PriceChange24h); change > w.config.ExtremeChangePct {
		if a := w.detector.Detect(MetricPriceChange24h, change, w.config.ChangeRate); a != nil && a.Severity == models.SeverityHigh {
			a.Context = fmt.Sprintf("Extreme 24h price change: %+.2f%%", snap.PriceChange24h)
			found = append(found, *a)
		}
	}
	return found
}
