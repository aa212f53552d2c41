// Package notifications publishes operator alerts when chat delivery fails
// outright, deduplicated so a provider outage pages once per window.
package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type NotificationType string

const (
	NotificationDeliveryExhausted NotificationType = "delivery_exhausted"
	NotificationWatchdogTimeout   NotificationType = "watchdog_timeout"
)

type Notification struct {
	Type          NotificationType  `json:"type"`
	Message       string            `json:"message"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	handlers      []func(Notification)
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)

	for _, handler := range n.handlers {
		handler(notification)
	}

	slog.Info("notification sent (in-memory)",
		"type", notification.Type,
		"correlation_id", notification.CorrelationID,
	)

	return nil
}

func (n *InMemoryNotifier) OnNotification(handler func(Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

func (n *InMemoryNotifier) GetNotifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}

func (n *InMemoryNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = nil
}
