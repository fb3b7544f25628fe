package risk

import "github.com/rewired-gh/riskwatch/internal/models"

// Trigger is the alert class fired by a monitor cycle.
type Trigger string

const (
	TriggerNone         Trigger = ""
	TriggerRiskCritical Trigger = models.AlertTypeRiskCritical
	TriggerHypeExtreme  Trigger = models.AlertTypeHypeExtreme
)

type Thresholds struct {
	RiskCritical int
	HypeExtreme  int
}

func DefaultThresholds() Thresholds {
	return Thresholds{RiskCritical: 80, HypeExtreme: 90}
}

// Classify returns at most one trigger per snapshot; risk is checked first.
func (t Thresholds) Classify(c models.MarketContext) Trigger {
	if c.RiskScore >= t.RiskCritical {
		return TriggerRiskCritical
	}
	if c.HypeScore >= t.HypeExtreme {
		return TriggerHypeExtreme
	}
	return TriggerNone
}

// Level buckets a 0–100 score for display.
func Level(score int) string {
	switch {
	case score < 40:
		return "Low"
	case score < 70:
		return "Medium"
	default:
		return "High"
	}
}
