package worker

import (
	"context"
	"fmt"

	"github.com/rewired-gh/riskwatch/internal/alert"
	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
	"github.com/rewired-gh/riskwatch/internal/risk"
)

// SnapshotStore is the market snapshot provider.
type SnapshotStore interface {
	GetLatestSnapshot() (*models.MarketContext, error)
	WriteBackRiskScore(id int64, score int) error
}

type SnapshotObserver interface {
	ObserveSnapshot(risk, hype int, btcPrice float64)
}

// MonitorWorker rescores the latest snapshot and raises RISK_CRITICAL or
// HYPE_EXTREME alerts when a threshold is crossed.
type MonitorWorker struct {
	store      SnapshotStore
	thresholds risk.Thresholds
	dispatcher *alert.Dispatcher
	delivery   *Delivery
	observer   SnapshotObserver
}

func NewMonitorWorker(store SnapshotStore, thresholds risk.Thresholds, dispatcher *alert.Dispatcher,
	delivery *Delivery, observer SnapshotObserver) *MonitorWorker {
	return &MonitorWorker{
		store:      store,
		thresholds: thresholds,
		dispatcher: dispatcher,
		delivery:   delivery,
		observer:   observer,
	}
}

func (w *MonitorWorker) Cycle(_ context.Context) error {
	snap, err := w.store.GetLatestSnapshot()
	if err != nil {
		return fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if snap == nil {
		logger.Debug("No market snapshot yet, skipping monitor cycle")
		return nil
	}

	score := risk.Score(*snap)
	if score != snap.RiskScore {
		// The in-memory score is used below even if the write fails.
		if err := w.store.WriteBackRiskScore(snap.ID, score); err != nil {
			logger.Error("Failed to write back risk score for snapshot %d: %v", snap.ID, err)
		}
		snap.RiskScore = score
	}
	if w.observer != nil {
		w.observer.ObserveSnapshot(snap.RiskScore, snap.HypeScore, snap.BTCPrice)
	}

	trigger := w.thresholds.Classify(*snap)
	if trigger == risk.TriggerNone {
		return nil
	}

	payload := w.dispatcher.DispatchTrigger(trigger, *snap)
	if payload == nil {
		logger.Debug("%s suppressed by cooldown", trigger)
		return nil
	}
	w.delivery.Deliver(payload)
	return nil
}
