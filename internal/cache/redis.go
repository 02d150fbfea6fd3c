package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketllm/internal/core"
)

const (
	// keyPrefix namespaces response-cache entries in Redis.
	keyPrefix = "pocketllm:response:"

	// DefaultTTL is the default time-to-live for cached responses.
	DefaultTTL = time.Hour
)

// RedisCache implements core.ResponseCache on Redis for multi-instance
// deployments. TTL expiry is delegated to Redis itself; a key past its TTL
// is simply gone. Read and write failures degrade to a miss / no-op, since
// caching is an optimization rather than a correctness dependency.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and returns a response cache.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	slog.Info("redis response cache connected", "ttl", ttl)

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the cached text for the key, or a miss if absent, expired, or
// unreachable.
func (c *RedisCache) Get(ctx context.Context, key core.CacheKey) (string, bool) {
	text, err := c.client.Get(ctx, keyPrefix+Fingerprint(key)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("redis cache read failed, treating as miss", "error", err)
		}
		return "", false
	}
	return text, true
}

// Set stores text for the key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key core.CacheKey, text string) {
	if err := c.client.Set(ctx, keyPrefix+Fingerprint(key), text, c.ttl).Err(); err != nil {
		slog.Warn("redis cache write failed, skipping", "error", err)
	}
}

// TTL returns the configured entry lifetime.
func (c *RedisCache) TTL() time.Duration {
	return c.ttl
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
