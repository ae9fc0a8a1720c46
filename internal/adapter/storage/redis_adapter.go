package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seventeenk/storefront/internal/core/domain"
)

const (
	idempotencyKeyPrefix  = "idempotency:"
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultEventsChannel  = "storefront:fulfillments"
)

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
	channel        string
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL time.Duration, channel string) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = DefaultIdempotencyTTL
	}
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &RedisAdapter{client: client, idempotencyTTL: idempotencyTTL, channel: channel}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// PublishFulfillment sends the event as JSON on the events channel.
func (r *RedisAdapter) PublishFulfillment(ctx context.Context, event domain.FulfillmentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}
