package models

import (
	"errors"
	"fmt"
	"time"
)

// Severity is the coarse level used downstream for filtering.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Significant reports whether s is medium or high.
func (s Severity) Significant() bool {
	return s == SeverityMedium || s == SeverityHigh
}

// AnomalyType classifies how a deviation was detected.
type AnomalyType string

const (
	AnomalyOutlier      AnomalyType = "outlier"
	AnomalySuddenChange AnomalyType = "sudden_change"
	AnomalyTrendBreak   AnomalyType = "trend_break"
)

// Anomaly is a single detection result. Optional measurements are nil when the
// detection path did not compute them.
type Anomaly struct {
	Metric        string      `json:"metric"`
	CurrentValue  float64     `json:"current_value"`
	PreviousValue *float64    `json:"previous_value,omitempty"`
	BaselineMean  float64     `json:"baseline_mean,omitempty"`
	BaselineStd   float64     `json:"baseline_std,omitempty"`
	Severity      Severity    `json:"severity"`
	Type          AnomalyType `json:"anomaly_type"`
	ZScore        *float64    `json:"z_score,omitempty"`
	RateOfChange  *float64    `json:"rate_of_change,omitempty"`
	Delta         *float64    `json:"delta,omitempty"`
	DeltaPct      *float64    `json:"delta_pct,omitempty"`
	Message       string      `json:"message"`
	Context       string      `json:"context,omitempty"`
	DetectedAt    time.Time   `json:"detected_at"`
}

// Actionable reports whether the anomaly carries both a signed delta and a
// delta percentage against a fixed reference.
func (a *Anomaly) Actionable() bool {
	return a.Delta != nil && a.DeltaPct != nil
}

// Validate rejects anomalies with malformed enums.
func (a *Anomaly) Validate() error {
	if a.Metric == "" {
		return errors.New("anomaly metric must not be empty")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("invalid anomaly severity %q", a.Severity)
	}
	switch a.Type {
	case AnomalyOutlier, AnomalySuddenChange, AnomalyTrendBreak:
	default:
		return fmt.Errorf("invalid anomaly type %q", a.Type)
	}
	return nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
