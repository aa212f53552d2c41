package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultDedupWindow = 10 * time.Minute

// Deduplicator decides whether an alert of a given type may go out now.
// Only the first caller inside a window gets true, across all replicas
// when Redis-backed.
type Deduplicator interface {
	ShouldAlert(ctx context.Context, notificationType NotificationType) bool
}

type InMemoryDeduplicator struct {
	mu     sync.Mutex
	sentAt map[NotificationType]time.Time
	window time.Duration
	now    func() time.Time
}

func NewInMemoryDeduplicator(window time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		sentAt: make(map[NotificationType]time.Time),
		window: window,
		now:    time.Now,
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, notificationType NotificationType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.sentAt[notificationType]; ok && now.Sub(last) < d.window {
		return false
	}

	d.sentAt[notificationType] = now
	return true
}

type RedisDeduplicator struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDeduplicator(client *redis.Client, window time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client: client,
		window: window,
	}
}

func (d *RedisDeduplicator) alertKey(notificationType NotificationType) string {
	return fmt.Sprintf("anubhav:alert:%s", notificationType)
}

// ShouldAlert takes the alert slot with SETNX. Redis errors fail open.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, notificationType NotificationType) bool {
	acquired, err := d.client.SetNX(ctx, d.alertKey(notificationType), time.Now().Unix(), d.window).Result()
	if err != nil {
		slog.Warn("alert dedup unavailable, sending anyway", "type", notificationType, "error", err)
		return true
	}
	return acquired
}
