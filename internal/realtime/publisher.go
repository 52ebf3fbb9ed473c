package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/OburuO/ville-messenger-app/internal/metrics"
)

// Publisher pushes a domain event onto a named channel. Delivery is
// at-most-once best-effort; callers must treat failures as log-and-continue.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// RedisPublisher fans events out through Redis pub/sub so every server
// instance sees them, not just the one that handled the request.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	frame, err := NewFrame(channel, event, payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal payload: %w", err)
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("realtime: marshal frame: %w", err)
	}
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", channel, err)
	}
	metrics.EventsPublished.WithLabelValues(event).Inc()
	return nil
}
