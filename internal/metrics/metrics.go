// Package metrics exposes Prometheus instrumentation for the worker loops,
// the anomaly detector, the alert dispatcher and voice sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskwatch"

// Metrics holds every collector registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleFailures  *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	anomalies      *prometheus.CounterVec
	alertsDropped  *prometheus.CounterVec
	alertsSent     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	riskScore      prometheus.Gauge
	hypeScore      prometheus.Gauge
	btcPrice       prometheus.Gauge
}

// New creates a registry with the service collectors plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cycles_total",
			Help:      "Completed worker loop cycles.",
		}, []string{"loop"}),
		cycleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_failures_total",
			Help:      "Worker loop cycles that returned an error or panicked.",
		}, []string{"loop"}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_cycle_seconds",
			Help:      "Worker loop cycle latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"loop"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies reported by the detector.",
		}, []string{"metric", "severity"}),
		alertsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Anomalies rejected by the dispatcher gate.",
		}, []string{"reason"}),
		alertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dispatched_total",
			Help:      "Alert payloads dispatched to consumers.",
		}, []string{"type"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_active",
			Help:      "Connected voice sessions.",
		}),
		riskScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Latest composite risk score.",
		}),
		hypeScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hype_score",
			Help:      "Latest hype score.",
		}),
		btcPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "btc_price_usd",
			Help:      "Latest BTC price in USD.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CycleCompleted(loop string, elapsed time.Duration) {
	m.cycles.WithLabelValues(loop).Inc()
	m.cycleDuration.WithLabelValues(loop).Observe(elapsed.Seconds())
}

func (m *Metrics) CycleFailed(loop string) {
	m.cycleFailures.WithLabelValues(loop).Inc()
}

func (m *Metrics) AnomalyDetected(metric, severity string) {
	m.anomalies.WithLabelValues(metric, severity).Inc()
}

// AlertDropped implements alert.DropRecorder.
func (m *Metrics) AlertDropped(reason string) {
	m.alertsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) AlertDispatched(alertType string) {
	m.alertsSent.WithLabelValues(alertType).Inc()
}

func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// ObserveSnapshot records the headline figures of the latest snapshot.
func (m *Metrics) ObserveSnapshot(risk, hype int, btcPrice float64) {
	m.riskScore.Set(float64(risk))
	m.hypeScore.Set(float64(hype))
	m.btcPrice.Set(btcPrice)
}
