// Package worker runs the fixed-interval scheduler loops: monitor scoring,
// anomaly detection and snapshot ingestion.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/riskwatch/internal/logger"
)

// FailureNotifier reports the start and end of a run of failed cycles.
type FailureNotifier interface {
	SendError(loop string, err error) error
	SendRecovery(loop string, failureCount int) error
}

// CycleObserver records cycle outcomes.
type CycleObserver interface {
	CycleCompleted(loop string, elapsed time.Duration)
	CycleFailed(loop string)
}

// Loop runs Cycle once immediately and then every Interval until its
// context is cancelled. A failed or panicking cycle is logged and the loop
// carries on.
type Loop struct {
	Name     string
	Interval time.Duration
	Cycle    func(ctx context.Context) error
	Notifier FailureNotifier
	Observer CycleObserver

	consecutiveFailures int
}

func (l *Loop) Run(ctx context.Context) {
	logger.Info("Starting %s loop (interval: %v)", l.Name, l.Interval)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.handleResult(l.runOnce(ctx))
	for {
		select {
		case <-ctx.Done():
			logger.Info("%s loop stopped", l.Name)
			return
		case <-ticker.C:
			l.handleResult(l.runOnce(ctx))
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s cycle: %v", l.Name, r)
		}
		if err == nil && l.Observer != nil {
			l.Observer.CycleCompleted(l.Name, time.Since(start))
		}
	}()
	logger.Debug("Starting %s cycle", l.Name)
	return l.Cycle(ctx)
}

func (l *Loop) handleResult(err error) {
	if err != nil {
		l.consecutiveFailures++
		logger.Error("%s cycle failed: %v", l.Name, err)
		if l.Observer != nil {
			l.Observer.CycleFailed(l.Name)
		}
		if l.consecutiveFailures == 1 && l.Notifier != nil {
			if sendErr := l.Notifier.SendError(l.Name, err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}

	if l.consecutiveFailures > 0 {
		logger.Info("%s loop recovered after %d consecutive failure(s)", l.Name, l.consecutiveFailures)
		if l.Notifier != nil {
			if sendErr := l.Notifier.SendRecovery(l.Name, l.consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
	}
	l.consecutiveFailures = 0
}
