package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PassLockKey is the key every process advancing the shared simulation contends for
const PassLockKey = "lock:railsim:pass"

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PassLock is a distributed mutex around progression passes. The TTL bounds how
// long a crashed holder can block other processes.
type PassLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration

	mu    sync.Mutex
	token string
}

// NewPassLock creates a lock on PassLockKey
func NewPassLock(rdb *redis.Client, ttl time.Duration) *PassLock {
	return &PassLock{rdb: rdb, key: PassLockKey, ttl: ttl}
}

// Acquire attempts to take the lock.
// Returns true if the lock was acquired, false if another holder has it.
func (l *PassLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release drops the lock if this process still holds it
func (l *PassLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release pass lock: %w", err)
	}
	return nil
}
