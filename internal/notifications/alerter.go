package notifications

import (
	"context"
	"log/slog"

	"github.com/simhastha/anubhav-gateway/internal/metrics"
)

// Alerter sends a notification unless one of the same type already went
// out inside the deduplication window.
type Alerter struct {
	notifier Notifier
	dedup    Deduplicator
}

func NewAlerter(notifier Notifier, dedup Deduplicator) *Alerter {
	return &Alerter{
		notifier: notifier,
		dedup:    dedup,
	}
}

func (a *Alerter) Alert(ctx context.Context, notification Notification) {
	if !a.dedup.ShouldAlert(ctx, notification.Type) {
		metrics.RecordAlert(string(notification.Type), "suppressed")
		return
	}

	if err := a.notifier.Send(ctx, notification); err != nil {
		metrics.RecordAlert(string(notification.Type), "failed")
		slog.Error("failed to send alert",
			"type", notification.Type,
			"correlation_id", notification.CorrelationID,
			"error", err,
		)
		return
	}

	metrics.RecordAlert(string(notification.Type), "published")
}
