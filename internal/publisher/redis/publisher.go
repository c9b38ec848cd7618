// Package redis publishes notice events over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

type client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Close() error
}

// Publisher sends JSON-encoded payloads with PUBLISH.
type Publisher struct {
	client client
}

// New parses redisURL, verifies connectivity and returns a Publisher.
func New(ctx context.Context, redisURL string) (*Publisher, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	c := goredis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Publisher{client: c}, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(c client) *Publisher {
	return &Publisher{client: c}
}

// Publish encodes payload and publishes it on channel. The returned ID
// carries the number of subscribers that received it.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return "", fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return fmt.Sprintf("%s/%d", channel, receivers), nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
