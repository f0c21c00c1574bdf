package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hanko-field/orderflow/internal/services"
)

// redisPublishClient is the slice of the go-redis client the publisher needs.
type redisPublishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher broadcasts events on a Redis Pub/Sub channel. Delivery is at-most-once; subscribers
// that need durability should read the order history instead.
type RedisPublisher struct {
	client  redisPublishClient
	channel string
}

// NewRedisPublisher constructs a Redis backed publisher for channel.
func NewRedisPublisher(client redisPublishClient, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis event publisher: client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("redis event publisher: channel is required")
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish implements services.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, event services.Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

var _ services.EventPublisher = (*RedisPublisher)(nil)
