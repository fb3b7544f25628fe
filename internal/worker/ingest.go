package worker

import (
	"context"

	"github.com/rewired-gh/riskwatch/internal/models"
)

// Ingestor refreshes the market snapshot from external sources.
type Ingestor interface {
	Cycle(ctx context.Context) (*models.MarketContext, error)
}

// IngestWorker adapts an Ingestor to a Loop cycle.
type IngestWorker struct {
	ingestor Ingestor
	observer SnapshotObserver
}

func NewIngestWorker(ingestor Ingestor, observer SnapshotObserver) *IngestWorker {
	return &IngestWorker{ingestor: ingestor, observer: observer}
}

func (w *IngestWorker) Cycle(ctx context.Context) error {
	snap, err := w.ingestor.Cycle(ctx)
	if err != nil {
		return err
	}
	if w.observer != nil && snap != nil {
		w.observer.ObserveSnapshot(snap.RiskScore, snap.HypeScore, snap.BTCPrice)
	}
	return nil
}
