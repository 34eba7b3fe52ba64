// Package cache keeps the last discovered model snapshot in Redis so a
// restarted server can serve the inventory while Ollama is still starting.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"llm_fanout/registry"
)

// RedisCache implements registry.Cache using Redis.
type RedisCache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ registry.Cache = (*RedisCache)(nil)

type Option func(*RedisCache)

// WithTTL sets the expiration of the cached snapshot.
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// New creates a Redis cache with options.
func New(address, password string, db int, opts ...Option) *RedisCache {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis cache from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: "llm_fanout:",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key() string {
	return c.prefix + "models"
}

// Store saves the snapshot.
func (c *RedisCache) Store(ctx context.Context, snapshot []registry.Model) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}
	if err := c.client.Set(ctx, c.key(), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load returns the cached snapshot, or nil when nothing is cached.
func (c *RedisCache) Load(ctx context.Context) ([]registry.Model, error) {
	val, err := c.client.Get(ctx, c.key()).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load from redis: %w", err)
	}

	var snapshot []registry.Model
	if err := json.Unmarshal(val, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal models: %w", err)
	}
	return snapshot, nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
