package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FeedTTL bounds how long an encoded feed stays cached. Entries are keyed by pass,
// so a newer pass never reads a stale feed.
const FeedTTL = 2 * time.Minute

// FeedKey generates the cache key of the realtime feed encoded after one pass
func FeedKey(passID, format string) string {
	return fmt.Sprintf("feed:%s:%s", passID, format)
}

// GetBytes returns a cached value, or nil when the key is absent
func GetBytes(ctx context.Context, rdb *redis.Client, key string) ([]byte, error) {
	val, err := rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

// SetBytes caches a value with a TTL
func SetBytes(ctx context.Context, rdb *redis.Client, key string, val []byte, ttl time.Duration) error {
	if err := rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
