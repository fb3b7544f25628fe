// Package monitor detects statistically significant deviations in rolling metric windows.
package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
)

// minBaseline is the number of samples required before detection is attempted.
const minBaseline = 3

type Config struct {
	WindowSize      int
	ZScoreThreshold float64
	Cooldown        time.Duration
}

func DefaultConfig() Config {
	return Config{
		WindowSize:      DefaultWindowSize,
		ZScoreThreshold: 2.5,
		Cooldown:        60 * time.Second,
	}
}

// Detector compares new metric values against their rolling window using
// z-score and rate-of-change heuristics. Every call records the new value.
type Detector struct {
	mu          sync.Mutex
	history     *History
	config      Config
	lastAnomaly map[string]time.Time
	now         func() time.Time
}

// Option customizes a Detector.
type Option func(*Detector)

// WithClock overrides the time source used for cooldowns and sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithHistory shares an existing history store.
func WithHistory(h *History) Option {
	return func(d *Detector) { d.history = h }
}

func NewDetector(config Config, opts ...Option) *Detector {
	if config.ZScoreThreshold <= 0 {
		config.ZScoreThreshold = DefaultConfig().ZScoreThreshold
	}
	d := &Detector{
		config:      config,
		lastAnomaly: make(map[string]time.Time),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.history == nil {
		d.history = NewHistory(config.WindowSize)
	}
	logger.Debug("Anomaly detector initialized (window=%d, z_threshold=%.2f, cooldown=%v)",
		d.history.Capacity(), config.ZScoreThreshold, config.Cooldown)
	return d
}

// History exposes the underlying metric store.
func (d *Detector) History() *History {
	return d.history
}

// Observe records a value without running detection. Non-finite values are dropped.
func (d *Detector) Observe(metric string, value float64) {
	if !finite(value) {
		return
	}
	d.history.Record(metric, value, d.now())
}

// Detect checks current against the metric's window and returns an anomaly, or nil.
// The value is appended to the window regardless of outcome, unless it is
// NaN or infinite, in which case it is neither checked nor recorded.
func (d *Detector) Detect(metric string, current float64, rateThreshold float64) *models.Anomaly {
	if !finite(current) {
		logger.Warn("Ignoring non-finite %s sample: %v", metric, current)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	defer d.history.Record(metric, current, now)

	history := d.history.Values(metric)
	if len(history) < minBaseline {
		return nil
	}

	if d.inCooldown(metric, now) {
		return nil
	}

	mean, stdev := Baseline(history)

	var anomaly *models.Anomaly

	if stdev > 0 {
		z := math.Abs(current-mean) / stdev
		if z >= d.config.ZScoreThreshold {
			anomaly = &models.Anomaly{
				Metric:       metric,
				CurrentValue: current,
				BaselineMean: mean,
				BaselineStd:  stdev,
				Severity:     outlierSeverity(z),
				Type:         models.AnomalyOutlier,
				ZScore:       models.Float(z),
				Message: fmt.Sprintf("%s is %.2f standard deviations from baseline (%.2f vs %.2f)",
					metric, z, current, mean),
				DetectedAt: now,
			}
		}
	}

	// Rate of change is only consulted when the z-score check found nothing.
	if anomaly == nil {
		if found := rateAnomaly(metric, current, history, rateThreshold); found != nil {
			found.BaselineMean = mean
			found.BaselineStd = stdev
			found.DetectedAt = now
			anomaly = found
		}
	}

	if anomaly != nil {
		d.lastAnomaly[metric] = now
		logger.Warn("ANOMALY DETECTED: %s (severity: %s)", anomaly.Message, anomaly.Severity)
	}
	return anomaly
}

// inCooldown reports whether metric is still suppressed by a recent
// anomaly. A zero cooldown never suppresses. Callers hold d.mu.
func (d *Detector) inCooldown(metric string, now time.Time) bool {
	last, ok := d.lastAnomaly[metric]
	return ok && now.Sub(last) < d.config.Cooldown
}

func outlierSeverity(z float64) models.Severity {
	switch {
	case z >= 3.0:
		return models.SeverityHigh
	case z >= 2.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// rateAnomaly classifies a jump relative to the newest history sample.
// history must be non-empty.
func rateAnomaly(metric string, current float64, history []float64, threshold float64) *models.Anomaly {
	previous := history[len(history)-1]
	var rate float64
	if previous != 0 {
		rate = math.Abs((current - previous) / previous)
	}
	if rate < threshold {
		return nil
	}

	var kind models.AnomalyType
	var severity models.Severity

	if len(history) >= 3 {
		recentTrend := history[len(history)-1] - history[len(history)-2]
		currentTrend := current - history[len(history)-1]

		if isTrendBreak(recentTrend, currentTrend) {
			kind = models.AnomalyTrendBreak
			severity = models.SeverityMedium
			if rate >= 0.10 {
				severity = models.SeverityHigh
			}
		} else {
			kind = models.AnomalySuddenChange
			switch {
			case rate >= 0.15:
				severity = models.SeverityHigh
			case rate >= 0.08:
				severity = models.SeverityMedium
			default:
				severity = models.SeverityLow
			}
		}
	} else {
		kind = models.AnomalySuddenChange
		severity = models.SeverityMedium
		if rate >= 0.15 {
			severity = models.SeverityHigh
		}
	}

	return &models.Anomaly{
		Metric:        metric,
		CurrentValue:  current,
		PreviousValue: models.Float(previous),
		Severity:      severity,
		Type:          kind,
		RateOfChange:  models.Float(rate),
		Message: fmt.Sprintf("%s changed %.2f%% suddenly (%.2f → %.2f)",
			metric, rate*100, previous, current),
	}
}

// isTrendBreak reports a reversal at least twice the size of the prior move.
func isTrendBreak(recent, current float64) bool {
	return (recent > 0 && current < -recent*2) ||
		(recent < 0 && current > -recent*2)
}
