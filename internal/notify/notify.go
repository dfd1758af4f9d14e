package notify

import (
	"fmt"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title        string
	Message      string
	Type         NotificationType
	ExperimentID string // Optional run reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForRun builds the notification for a run that reached a terminal status.
func ForRun(id domain.ExperimentID, rec *domain.ExperimentRecord) Notification {
	n := Notification{ExperimentID: id.String()}
	switch rec.Status {
	case domain.StatusCompleted:
		n.Title = "Experiment completed"
		n.Type = NotifySuccess
		n.Message = fmt.Sprintf("%s finished in %s with %d result files",
			id, rec.Elapsed().Round(time.Second), rec.ResultFilesCount)
	case domain.StatusStopped:
		n.Title = "Experiment stopped"
		n.Type = NotifyWarning
		n.Message = fmt.Sprintf("%s was stopped after %s", id, rec.Elapsed().Round(time.Second))
	case domain.StatusFailed:
		n.Title = "Experiment failed"
		n.Type = NotifyError
		n.Message = fmt.Sprintf("%s failed: %s", id, failureDetail(rec))
	default:
		n.Title = "Experiment error"
		n.Type = NotifyError
		n.Message = fmt.Sprintf("%s: %s", id, rec.Error)
	}
	return n
}

func failureDetail(rec *domain.ExperimentRecord) string {
	if rec.Error != "" {
		return rec.Error
	}
	if rec.ReturnCode != nil {
		return fmt.Sprintf("engine exited with code %d", *rec.ReturnCode)
	}
	return "unknown failure"
}
