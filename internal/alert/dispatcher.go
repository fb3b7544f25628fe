// Package alert decides which detections become narration-ready alerts and
// gates repeats with a per-key cooldown.
package alert

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

// Drop reasons reported to a DropRecorder.
const (
	DropSeverity = "severity"
	DropNoDelta  = "missing_delta"
	DropCooldown = "cooldown"
	DropInvalid  = "invalid"
)

const DefaultCooldown = 30 * time.Second

// DropRecorder receives one call per anomaly filtered out by the gate.
type DropRecorder interface {
	AlertDropped(reason string)
}

// Config holds the gate settings. A zero Cooldown disables the gate.
type Config struct {
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{Cooldown: DefaultCooldown}
}

// Dispatcher packages at most one alert per call. Its cooldown map is
// independent of the detector's.
type Dispatcher struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastSent map[string]time.Time
	now      func() time.Time
	recorder DropRecorder
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithDropRecorder(r DropRecorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func New(config Config, opts ...Option) *Dispatcher {
	if config.Cooldown < 0 {
		config.Cooldown = 0
	}
	d := &Dispatcher{
		cooldown: config.Cooldown,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaybeDispatch filters one cycle's anomalies and returns an ANOMALY_ALERT
// payload for the first survivor, or nil. Only medium/high anomalies that
// carry both delta and delta_pct are eligible.
func (d *Dispatcher) MaybeDispatch(anomalies []models.Anomaly, snap *models.MarketContext) *models.AlertPayload {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var survivors []models.Anomaly

	for i := range anomalies {
		a := anomalies[i]
		if err := a.Validate(); err != nil {
			logger.Error("Rejecting malformed anomaly: %v", err)
			d.drop(DropInvalid)
			continue
		}
		if !a.Severity.Significant() {
			d.drop(DropSeverity)
			continue
		}
		if !a.Actionable() {
			logger.Debug("Dropping %s anomaly on %s: no delta/delta_pct", a.Severity, a.Metric)
			d.drop(DropNoDelta)
			continue
		}
		if d.coolingDown(a.Metric, now) {
			d.drop(DropCooldown)
			continue
		}
		d.lastSent[a.Metric] = now
		survivors = append(survivors, a)
	}

	if len(survivors) == 0 {
		return nil
	}

	first := survivors[0]
	payload := &models.AlertPayload{
		ID:             uuid.New().String(),
		AlertType:      models.AlertTypeAnomaly,
		Metric:         first.Metric,
		BTCPrice:       first.CurrentValue,
		PriceChange24h: *first.DeltaPct,
		Message:        anomalyMessage(first),
		CreatedAt:      now,
	}
	if snap != nil {
		payload.RiskScore = snap.RiskScore
		payload.HypeScore = snap.HypeScore
	}

	logger.Info("Dispatching %s for %s (%d eligible this cycle)", payload.AlertType, first.Metric, len(survivors))
	return payload
}

// DispatchTrigger packages a RISK_CRITICAL or HYPE_EXTREME payload for snap,
// gated by the same cooldown keyed by trigger name.
func (d *Dispatcher) DispatchTrigger(trigger risk.Trigger, snap models.MarketContext) *models.AlertPayload {
	if trigger == risk.TriggerNone {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := string(trigger)
	if d.coolingDown(key, now) {
		d.drop(DropCooldown)
		return nil
	}
	d.lastSent[key] = now

	return &models.AlertPayload{
		ID:             uuid.New().String(),
		AlertType:      key,
		RiskScore:      snap.RiskScore,
		HypeScore:      snap.HypeScore,
		BTCPrice:       snap.BTCPrice,
		PriceChange24h: snap.PriceChange24h,
		Message:        triggerMessage(trigger, snap),
		CreatedAt:      now,
	}
}

func (d *Dispatcher) coolingDown(key string, now time.Time) bool {
	last, ok := d.lastSent[key]
	return ok && now.Sub(last) < d.cooldown
}

func (d *Dispatcher) drop(reason string) {
	if d.recorder != nil {
		d.recorder.AlertDropped(reason)
	}
}

func anomalyMessage(a models.Anomaly) string {
	return fmt.Sprintf("ANOMALY ALERT: %s at %s, %s (%+.2f%%) from reference",
		a.Metric, usd(a.CurrentValue), signedUSD(*a.Delta), *a.DeltaPct)
}

func triggerMessage(trigger risk.Trigger, snap models.MarketContext) string {
	switch trigger {
	case risk.TriggerRiskCritical:
		return fmt.Sprintf("[SYSTEM ALERT] Risk at %d/100! BTC %s (%+.2f%% 24h), sentiment %s",
			snap.RiskScore, usd(snap.BTCPrice), snap.PriceChange24h, snap.Sentiment)
	case risk.TriggerHypeExtreme:
		return fmt.Sprintf("[SYSTEM ALERT] Hype at %d/100! BTC %s (%+.2f%% 24h), sentiment %s",
			snap.HypeScore, usd(snap.BTCPrice), snap.PriceChange24h, snap.Sentiment)
	}
	return ""
}

func usd(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

func signedUSD(v float64) string {
	sign := "+"
	if v < 0 {
		sign = "-"
	}
	return sign + usd(math.Abs(v))
}
