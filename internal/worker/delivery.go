package worker

import (
	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/models"
)

type AlertStore interface {
	AddAlert(alert *models.AlertPayload) error
	MarkAlertSpoken(id string) error
}

type AlertNotifier interface {
	SendAlert(alert *models.AlertPayload) error
}

// Speaker hands an alert to the live narration session, if any.
type Speaker interface {
	Speak(text string, alert *models.AlertPayload) bool
}

type DispatchObserver interface {
	AlertDispatched(alertType string)
}

// Delivery fans a dispatched alert out to its consumers: the alert log
// first, then Telegram, then the voice session. Each step is optional and
// a failure in one does not stop the rest.
type Delivery struct {
	Store    AlertStore
	Notifier AlertNotifier
	Speaker  Speaker
	Observer DispatchObserver
}

// Deliver reports whether the alert was handed to a voice session.
func (d *Delivery) Deliver(alert *models.AlertPayload) bool {
	if alert == nil {
		return false
	}
	logger.Warn("ALERT %s: %s", alert.AlertType, alert.Message)

	if d.Observer != nil {
		d.Observer.AlertDispatched(alert.AlertType)
	}

	stored := false
	if d.Store != nil {
		if err := d.Store.AddAlert(alert); err != nil {
			logger.Error("Failed to persist alert %s: %v", alert.ID, err)
		} else {
			stored = true
		}
	}

	if d.Notifier != nil {
		if err := d.Notifier.SendAlert(alert); err != nil {
			logger.Error("Failed to send Telegram alert: %v", err)
		} else {
			logger.Info("Sent %s to Telegram", alert.AlertType)
		}
	}

	if d.Speaker == nil || !d.Speaker.Speak(alert.Message, alert) {
		logger.Debug("No voice session registered, %s not voiced", alert.ID)
		return false
	}
	if stored {
		if err := d.Store.MarkAlertSpoken(alert.ID); err != nil {
			logger.Warn("Failed to mark alert %s spoken: %v", alert.ID, err)
		}
	}
	return true
}
