package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the sample for name whose labels match want.
func value(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func TestCycleCounters(t *testing.T) {
	m := New()
	m.CycleCompleted("monitor", 20*time.Millisecond)
	m.CycleCompleted("monitor", 30*time.Millisecond)
	m.CycleFailed("ingest")

	assert.Equal(t, 2.0, value(t, m, "riskwatch_loop_cycles_total", map[string]string{"loop": "monitor"}))
	assert.Equal(t, 2.0, value(t, m, "riskwatch_loop_cycle_seconds", map[string]string{"loop": "monitor"}))
	assert.Equal(t, 1.0, value(t, m, "riskwatch_loop_failures_total", map[string]string{"loop": "ingest"}))
}

func TestAlertCounters(t *testing.T) {
	m := New()
	m.AnomalyDetected("btc_price", "high")
	m.AlertDropped("cooldown")
	m.AlertDropped("cooldown")
	m.AlertDispatched("ANOMALY_ALERT")

	assert.Equal(t, 1.0, value(t, m, "riskwatch_anomalies_total", map[string]string{"metric": "btc_price", "severity": "high"}))
	assert.Equal(t, 2.0, value(t, m, "riskwatch_alerts_dropped_total", map[string]string{"reason": "cooldown"}))
	assert.Equal(t, 1.0, value(t, m, "riskwatch_alerts_dispatched_total", map[string]string{"type": "ANOMALY_ALERT"}))
}

func TestGauges(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.ObserveSnapshot(72, 40, 59000)

	assert.Equal(t, 1.0, value(t, m, "riskwatch_voice_sessions_active", nil))
	assert.Equal(t, 72.0, value(t, m, "riskwatch_risk_score", nil))
	assert.Equal(t, 40.0, value(t, m, "riskwatch_hype_score", nil))
	assert.Equal(t, 59000.0, value(t, m, "riskwatch_btc_price_usd", nil))
}

func TestHandler(t *testing.T) {
	m := New()
	m.AlertDropped("severity")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `riskwatch_alerts_dropped_total{reason="severity"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}
