package worker

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/riskwatch/internal/alert"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/monitor"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

// events records the order in which delivery collaborators were called.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeAlertStore struct {
	ev     *events
	err    error
	alerts []*models.AlertPayload
	spoken []string
}

func (s *fakeAlertStore) AddAlert(a *models.AlertPayload) error {
	s.ev.add("store")
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *fakeAlertStore) MarkAlertSpoken(id string) error {
	s.ev.add("spoken")
	s.spoken = append(s.spoken, id)
	return nil
}

type fakeNotifier struct {
	ev  *events
	err error
}

func (n *fakeNotifier) SendAlert(*models.AlertPayload) error {
	n.ev.add("telegram")
	return n.err
}

type fakeSpeaker struct {
	ev      *events
	present bool
	texts   []string
}

func (s *fakeSpeaker) Speak(text string, _ *models.AlertPayload) bool {
	s.ev.add("speak")
	s.texts = append(s.texts, text)
	return s.present
}

type deliveryHarness struct {
	ev       *events
	store    *fakeAlertStore
	notifier *fakeNotifier
	speaker  *fakeSpeaker
	delivery *Delivery
}

func newDeliveryHarness(voice bool) *deliveryHarness {
	ev := &events{}
	h := &deliveryHarness{
		ev:       ev,
		store:    &fakeAlertStore{ev: ev},
		notifier: &fakeNotifier{ev: ev},
		speaker:  &fakeSpeaker{ev: ev, present: voice},
	}
	h.delivery = &Delivery{Store: h.store, Notifier: h.notifier, Speaker: h.speaker}
	return h
}

func TestDelivery_Order(t *testing.T) {
	h := newDeliveryHarness(true)
	spoken := h.delivery.Deliver(&models.AlertPayload{ID: "a1", AlertType: models.AlertTypeAnomaly, Message: "m"})

	assert.True(t, spoken)
	assert.Equal(t, []string{"store", "telegram", "speak", "spoken"}, h.ev.list())
	assert.Equal(t, []string{"a1"}, h.store.spoken)
	assert.Equal(t, []string{"m"}, h.speaker.texts)
}

func TestDelivery_NoSession(t *testing.T) {
	h := newDeliveryHarness(false)
	spoken := h.delivery.Deliver(&models.AlertPayload{ID: "a1", Message: "m"})

	assert.False(t, spoken)
	assert.Equal(t, []string{"store", "telegram", "speak"}, h.ev.list())
	assert.Empty(t, h.store.spoken)
}

func TestDelivery_FailuresDoNotStopLaterSteps(t *testing.T) {
	h := newDeliveryHarness(true)
	h.store.err = errors.New("disk full")
	h.notifier.err = errors.New("telegram 502")

	assert.True(t, h.delivery.Deliver(&models.AlertPayload{ID: "a1", Message: "m"}))
	assert.Equal(t, []string{"store", "telegram", "speak"}, h.ev.list(), "unstored alert is not marked spoken")
}

func TestDelivery_OptionalConsumers(t *testing.T) {
	d := &Delivery{}
	assert.False(t, d.Deliver(&models.AlertPayload{ID: "a1"}))
	assert.False(t, d.Deliver(nil))
}

type fakeSnapshots struct {
	mu       sync.Mutex
	snap     *models.MarketContext
	err      error
	writeErr error
	written  map[int64]int
}

func (f *fakeSnapshots) GetLatestSnapshot() (*models.MarketContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil || f.snap == nil {
		return nil, f.err
	}
	cp := *f.snap
	return &cp, nil
}

func (f *fakeSnapshots) WriteBackRiskScore(id int64, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.written == nil {
		f.written = map[int64]int{}
	}
	f.written[id] = score
	return nil
}

func panicSnapshot() *models.MarketContext {
	return &models.MarketContext{
		ID:                7,
		HypeScore:         30,
		Sentiment:         models.SentimentPanic,
		SentimentScore:    -12,
		PriceChange24h:    -6,
		PolymarketAvgOdds: 0.1,
		BTCPrice:          75000,
		CreatedAt:         time.Now(),
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMonitorWorker_RiskCritical(t *testing.T) {
	store := &fakeSnapshots{snap: panicSnapshot()}
	h := newDeliveryHarness(true)
	c := &clock{t: time.Now()}
	w := NewMonitorWorker(store, risk.DefaultThresholds(), alert.New(alert.DefaultConfig(), alert.WithClock(c.now)), h.delivery, nil)

	require.NoError(t, w.Cycle(context.Background()))
	assert.Equal(t, 100, store.written[7])
	require.Len(t, h.store.alerts, 1)
	got := h.store.alerts[0]
	assert.Equal(t, models.AlertTypeRiskCritical, got.AlertType)
	assert.Equal(t, 100, got.RiskScore)
	assert.Contains(t, got.Message, "Risk at 100/100")

	// Same trigger inside the dispatcher cooldown stays quiet.
	c.t = c.t.Add(10 * time.Second)
	require.NoError(t, w.Cycle(context.Background()))
	assert.Len(t, h.store.alerts, 1)

	c.t = c.t.Add(25 * time.Second)
	require.NoError(t, w.Cycle(context.Background()))
	assert.Len(t, h.store.alerts, 2)
}

func TestMonitorWorker_WriteBackFailureStillAlerts(t *testing.T) {
	store := &fakeSnapshots{snap: panicSnapshot(), writeErr: errors.New("locked")}
	h := newDeliveryHarness(false)
	w := NewMonitorWorker(store, risk.DefaultThresholds(), alert.New(alert.DefaultConfig()), h.delivery, nil)

	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, h.store.alerts, 1)
	assert.Equal(t, 100, h.store.alerts[0].RiskScore)
}

func TestMonitorWorker_CalmSnapshot(t *testing.T) {
	calm := &models.MarketContext{
		ID: 1, Sentiment: models.SentimentBullish, SentimentScore: 8,
		PriceChange24h: 4, PolymarketAvgOdds: 0.5, BTCPrice: 97000, CreatedAt: time.Now(),
	}
	store := &fakeSnapshots{snap: calm}
	h := newDeliveryHarness(true)
	w := NewMonitorWorker(store, risk.DefaultThresholds(), alert.New(alert.DefaultConfig()), h.delivery, nil)

	require.NoError(t, w.Cycle(context.Background()))
	assert.Equal(t, 18, store.written[1])
	assert.Empty(t, h.ev.list())
}

func TestMonitorWorker_EmptyAndFailingStore(t *testing.T) {
	h := newDeliveryHarness(true)
	w := NewMonitorWorker(&fakeSnapshots{}, risk.DefaultThresholds(), alert.New(alert.DefaultConfig()), h.delivery, nil)
	assert.NoError(t, w.Cycle(context.Background()))

	w = NewMonitorWorker(&fakeSnapshots{err: errors.New("db closed")}, risk.DefaultThresholds(), alert.New(alert.DefaultConfig()), h.delivery, nil)
	assert.Error(t, w.Cycle(context.Background()))
	assert.Empty(t, h.ev.list())
}

type staticPrices struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (p *staticPrices) set(symbol string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = v
}

func (p *staticPrices) Prices(context.Context, []string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := map[string]float64{}
	for k, v := range p.prices {
		out[k] = v
	}
	return out, nil
}

type countingAnomalies struct{ n atomic.Int32 }

func (c *countingAnomalies) AnomalyDetected(string, string) { c.n.Add(1) }

func TestAnomalyWorker_PriceBandDispatches(t *testing.T) {
	prices := &staticPrices{prices: map[string]float64{"BTC": 59000}}
	h := newDeliveryHarness(true)
	w := NewAnomalyWorker(DefaultAnomalyConfig(), monitor.NewDetector(monitor.DefaultConfig()),
		AnomalySources{Prices: prices}, alert.New(alert.DefaultConfig()), h.delivery, nil)

	require.NoError(t, w.Cycle(context.Background()))
	require.Len(t, h.store.alerts, 1)
	got := h.store.alerts[0]
	assert.Equal(t, models.AlertTypeAnomaly, got.AlertType)
	assert.Equal(t, MetricBTCPrice, got.Metric)
	assert.Equal(t, 59000.0, got.BTCPrice)
	assert.InDelta(t, -30.59, got.PriceChange24h, 0.01)
	assert.Contains(t, got.Message, "$59,000")
}

func TestAnomalyWorker_NonFinitePriceIsIgnored(t *testing.T) {
	prices := &staticPrices{prices: map[string]float64{"BTC": math.NaN()}}
	observer := &countingAnomalies{}
	h := newDeliveryHarness(true)
	w := NewAnomalyWorker(DefaultAnomalyConfig(), monitor.NewDetector(monitor.DefaultConfig()),
		AnomalySources{Prices: prices}, alert.New(alert.DefaultConfig()), h.delivery, observer)

	require.NoError(t, w.Cycle(context.Background()))
	prices.set("BTC", math.Inf(-1))
	require.NoError(t, w.Cycle(context.Background()))

	assert.Zero(t, observer.n.Load())
	assert.Empty(t, h.store.alerts)
	assert.Empty(t, h.speaker.texts)
}

func TestAnomalyWorker_StatisticalAnomalyIsNotDispatched(t *testing.T) {
	prices := &staticPrices{prices: map[string]float64{}}
	observer := &countingAnomalies{}
	h := newDeliveryHarness(true)
	w := NewAnomalyWorker(DefaultAnomalyConfig(), monitor.NewDetector(monitor.DefaultConfig()),
		AnomalySources{Prices: prices}, alert.New(alert.DefaultConfig()), h.delivery, observer)

	for _, p := range []float64{96500, 96550, 96520, 96530, 96540} {
		prices.set("BTC", p)
		require.NoError(t, w.Cycle(context.Background()))
	}
	// Inside the band, so only the detector can flag it, and it carries no delta.
	prices.set("BTC", 99900)
	require.NoError(t, w.Cycle(context.Background()))

	assert.Equal(t, int32(1), observer.n.Load())
	assert.Empty(t, h.store.alerts)
}

type fakePortfolio struct {
	balance float64
	ok      bool
	err     error
}

func (f *fakePortfolio) GetPortfolioBalance() (float64, bool, error) {
	return f.balance, f.ok, f.err
}

func TestAnomalyWorker_SourceErrorsAreJoined(t *testing.T) {
	prices := &staticPrices{prices: map[string]float64{"BTC": 120000}}
	h := newDeliveryHarness(false)
	w := NewAnomalyWorker(DefaultAnomalyConfig(), monitor.NewDetector(monitor.DefaultConfig()),
		AnomalySources{
			Prices:    prices,
			Portfolio: &fakePortfolio{err: errors.New("portfolio table missing")},
			Snapshots: &fakeSnapshots{err: errors.New("db closed")},
		}, alert.New(alert.DefaultConfig()), h.delivery, nil)

	err := w.Cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portfolio")
	assert.Contains(t, err.Error(), "snapshot")
	require.Len(t, h.store.alerts, 1, "band breach still dispatched")
	assert.InDelta(t, 41.18, h.store.alerts[0].PriceChange24h, 0.01)
}

func TestAnomalyWorker_SnapshotMetrics(t *testing.T) {
	store := &fakeSnapshots{}
	observer := &countingAnomalies{}
	h := newDeliveryHarness(false)
	w := NewAnomalyWorker(DefaultAnomalyConfig(), monitor.NewDetector(monitor.DefaultConfig()),
		AnomalySources{Snapshots: store, Portfolio: &fakePortfolio{}}, alert.New(alert.DefaultConfig()), h.delivery, observer)

	for _, v := range []float64{20, 21, 20, 21} {
		store.snap = &models.MarketContext{RiskScore: int(v), Sentiment: models.SentimentBullish, CreatedAt: time.Now()}
		require.NoError(t, w.Cycle(context.Background()))
	}
	assert.Zero(t, observer.n.Load())

	store.snap = &models.MarketContext{RiskScore: 90, Sentiment: models.SentimentPanic, CreatedAt: time.Now()}
	require.NoError(t, w.Cycle(context.Background()))
	assert.Equal(t, int32(1), observer.n.Load(), "high risk-score jump is reported")
	assert.Empty(t, h.store.alerts, "risk-score anomalies carry no delta")
}

type notifications struct {
	errors     atomic.Int32
	recoveries atomic.Int32
	lastCount  atomic.Int32
}

func (n *notifications) SendError(string, error) error {
	n.errors.Add(1)
	return nil
}

func (n *notifications) SendRecovery(_ string, count int) error {
	n.recoveries.Add(1)
	n.lastCount.Store(int32(count))
	return nil
}

func TestLoop_FailureNotifications(t *testing.T) {
	results := []error{errors.New("a"), errors.New("b"), nil, errors.New("c"), nil}
	n := &notifications{}
	l := &Loop{Name: "test", Notifier: n}

	for _, err := range results {
		l.handleResult(err)
	}
	assert.Equal(t, int32(2), n.errors.Load(), "one error notice per failure streak")
	assert.Equal(t, int32(2), n.recoveries.Load())
	assert.Equal(t, int32(1), n.lastCount.Load())
}

func TestLoop_RecoversPanic(t *testing.T) {
	l := &Loop{Name: "test", Cycle: func(context.Context) error { panic("boom") }}
	err := l.runOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoop_RunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	l := &Loop{
		Name:     "test",
		Interval: 5 * time.Millisecond,
		Cycle: func(context.Context) error {
			if calls.Add(1)%2 == 0 {
				return errors.New("flaky")
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond,
		"loop keeps running after failed cycles")
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}
