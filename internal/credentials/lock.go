package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRefreshInProgress is returned when another replica holds the refresh lock.
var ErrRefreshInProgress = errors.New("credentials: refresh already in progress")

// Locker serializes refreshes of one integration across replicas.
type Locker interface {
	WithLock(ctx context.Context, integrationID string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// DefaultLockTTL covers two grants at the default PMS timeout plus persistence.
const DefaultLockTTL = 45 * time.Second

// NewRedisLocker creates a locker that uses a per-integration Redis key. fn
// runs with a context that ends when the lock expires.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &redisLocker{client: client, ttl: ttl}
}

func (l *redisLocker) WithLock(ctx context.Context, integrationID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:credentials:%s", integrationID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("credentials: acquire refresh lock: %w", err)
	}
	if !ok {
		return ErrRefreshInProgress
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("credentials: release refresh lock: %w", err)
	}
	return nil
}

type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// GrantBudget is the per-grant timeout that lets a refresh grant, an initial
// grant and the persistence step finish inside lockTTL. It never exceeds
// requestTimeout when one is set.
func GrantBudget(lockTTL, requestTimeout time.Duration) time.Duration {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	budget := (lockTTL - defaultPersistTimeout) / 2
	if budget <= 0 {
		budget = lockTTL / 3
	}
	if requestTimeout > 0 && requestTimeout < budget {
		return requestTimeout
	}
	return budget
}
