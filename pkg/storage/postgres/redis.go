package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/messmate/messmate/pkg/storage"
)

// RedisClient handles read-cache operations for read-mostly billing data
// (purchase plans, credit slabs). The ledger balance is never cached here;
// the account row in postgres is the only authoritative balance.
type RedisClient struct {
	client *redis.Client
	config storage.Config
}

// NewRedisClient creates a new Redis client
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{
		client: client,
		config: config,
	}, nil
}

// NewRedisClientWith wraps an existing client (used by tests with miniredis)
func NewRedisClientWith(client *redis.Client, config storage.Config) *RedisClient {
	return &RedisClient{client: client, config: config}
}

// GetJSON retrieves a cached value and unmarshals it into dest. Returns
// (false, nil) on cache miss.
func (c *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		// Corrupt entry; drop it rather than serving garbage.
		c.client.Del(ctx, key)
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// SetJSON stores a value under key with the TTL configured for ttlName.
func (c *RedisClient) SetJSON(ctx context.Context, key, ttlName string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	ttl := c.config.CacheTTL[ttlName]
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Invalidate removes keys from the cache (called after admin writes).
func (c *RedisClient) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping checks connectivity (used by the health checker)
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the distributed rate limiter.
func (c *RedisClient) Client() *redis.Client {
	return c.client
}

// Close closes the connection pool
func (c *RedisClient) Close() error {
	return c.client.Close()
}
