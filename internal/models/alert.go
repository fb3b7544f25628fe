package models

import "time"

// Alert types carried in AlertPayload.AlertType.
const (
	AlertTypeAnomaly      = "ANOMALY_ALERT"
	AlertTypeRiskCritical = "RISK_CRITICAL"
	AlertTypeHypeExtreme  = "HYPE_EXTREME"
)

// AlertPayload is the narration-ready record handed to consumers
// (voice session, Telegram, alert log).
type AlertPayload struct {
	ID             string    `json:"id"`
	AlertType      string    `json:"alert_type"`
	Metric         string    `json:"metric,omitempty"`
	RiskScore      int       `json:"risk_score"`
	HypeScore      int       `json:"hype_score"`
	BTCPrice       float64   `json:"btc_price"`
	PriceChange24h float64   `json:"price_change_24h"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}
