package models

import (
	"testing"
	"time"
)

func TestMarketContextValidate(t *testing.T) {
	tests := []struct {
		name    string
		ctx     MarketContext
		wantErr bool
	}{
		{
			name: "valid snapshot",
			ctx: MarketContext{
				RiskScore:         40,
				HypeScore:         55,
				Sentiment:         SentimentBullish,
				SentimentScore:    3,
				PriceChange24h:    1.2,
				PolymarketAvgOdds: 0.6,
				BTCPrice:          96500,
				CreatedAt:         time.Now(),
			},
			wantErr: false,
		},
		{
			name: "risk score above range",
			ctx: MarketContext{
				RiskScore: 101,
				Sentiment: SentimentBullish,
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "unknown sentiment",
			ctx: MarketContext{
				Sentiment: "EUPHORIA",
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "odds above one",
			ctx: MarketContext{
				Sentiment:         SentimentPanic,
				PolymarketAvgOdds: 1.2,
				CreatedAt:         time.Now(),
			},
			wantErr: true,
		},
		{
			name: "missing timestamp",
			ctx: MarketContext{
				Sentiment: SentimentBearish,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("MarketContext.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnomalyValidate(t *testing.T) {
	ok := Anomaly{Metric: "btc_price", Severity: SeverityHigh, Type: AnomalyOutlier}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Anomaly{Metric: "btc_price", Severity: "critical", Type: AnomalyOutlier}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown severity")
	}

	badType := Anomaly{Metric: "btc_price", Severity: SeverityLow, Type: "spike"}
	if err := badType.Validate(); err == nil {
		t.Error("expected error for unknown anomaly type")
	}
}

func TestAnomalyActionable(t *testing.T) {
	a := Anomaly{Metric: "btc_price"}
	if a.Actionable() {
		t.Error("anomaly without deltas must not be actionable")
	}
	a.Delta = Float(-1000)
	if a.Actionable() {
		t.Error("anomaly with only delta must not be actionable")
	}
	a.DeltaPct = Float(-1.2)
	if !a.Actionable() {
		t.Error("anomaly with delta and delta_pct must be actionable")
	}
}

func TestClampScore(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 130: 100}
	for in, want := range cases {
		if got := ClampScore(in); got != want {
			t.Errorf("ClampScore(%d) = %d, want %d", in, got, want)
		}
	}
}
