// Package dedupe remembers provider event ids that were already handled so
// repeated deliveries can be acknowledged without touching the database.
//
// The cache is an optimisation only. Ticket correctness rests on the
// conditional writes in the reconciler; a cache miss or an unreachable Redis
// simply lets a delivery through to those writes.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webhook:processed:"

// DefaultTTL is how long a processed event id is remembered.
const DefaultTTL = 24 * time.Hour

// Cache records processed provider event ids.
type Cache interface {
	// Seen reports whether eventID was marked processed.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Mark records eventID as processed.
	Mark(ctx context.Context, eventID string) error
}

// RedisCache is a Cache backed by SET NX keys with a TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache. A non-positive ttl uses DefaultTTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *RedisCache) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	_, err := c.client.Get(ctx, keyPrefix+eventID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return true, nil
}

// Mark records eventID with SET NX, so a repeated mark keeps the first
// expiry instead of extending it.
func (c *RedisCache) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := c.client.SetNX(ctx, keyPrefix+eventID, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe mark: %w", err)
	}
	return nil
}

// Ping checks connectivity. It lets the cache serve as a health probe.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Nop is a Cache that never remembers anything. It is used when no Redis URL
// is configured.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }
func (Nop) Mark(context.Context, string) error         { return nil }
