package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

var errStaleFill = errors.New("credentials: integration changed during cache fill")

// CachedStore is a Redis read-through cache in front of another Store. Writes
// go to the inner store first, then bump the row's generation and drop the
// cached row. A fill is only stored while the generation it started from is
// still current, so a read racing a write cannot re-cache the old row.
//
// Cached rows carry what dispatch needs. The long-lived office secret and the
// refresh key never leave the inner store.
type CachedStore struct {
	inner  Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedStore wraps inner with a Redis cache.
func NewCachedStore(inner Store, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{inner: inner, redis: redisClient, ttl: ttl, logger: logger}
}

var _ Store = (*CachedStore)(nil)

// Source returns the store behind the cache.
func (c *CachedStore) Source() Store {
	return c.inner
}

func cacheKey(id string) string {
	return fmt.Sprintf("credentials:integration:%s", id)
}

func generationKey(id string) string {
	return fmt.Sprintf("credentials:integration:%s:gen", id)
}

// cachedIntegration is the Redis form of an Integration.
type cachedIntegration struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	Provider    string          `json:"provider"`
	Config      json.RawMessage `json:"config,omitempty"`
	Status      Status          `json:"status"`
	RequestKey  string          `json:"request_key,omitempty"`
	TokenExpiry *time.Time      `json:"token_expiry,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toCached(i *Integration) cachedIntegration {
	return cachedIntegration{
		ID:          i.ID,
		OrgID:       i.OrgID,
		Provider:    i.Provider,
		Config:      i.Config,
		Status:      i.Status,
		RequestKey:  i.RequestKey,
		TokenExpiry: i.TokenExpiry,
		LastError:   i.LastError,
		UpdatedAt:   i.UpdatedAt,
	}
}

func (c cachedIntegration) integration() *Integration {
	return &Integration{
		ID:          c.ID,
		OrgID:       c.OrgID,
		Provider:    c.Provider,
		Config:      c.Config,
		Status:      c.Status,
		RequestKey:  c.RequestKey,
		TokenExpiry: c.TokenExpiry,
		LastError:   c.LastError,
		UpdatedAt:   c.UpdatedAt,
	}
}

// Get serves from Redis when possible. Cache errors fall through to the inner
// store. Rows served from the cache have no OfficeID, SecretKey or RefreshKey.
func (c *CachedStore) Get(ctx context.Context, id string) (*Integration, error) {
	data, err := c.redis.Get(ctx, cacheKey(id)).Bytes()
	if err == nil {
		var cached cachedIntegration
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return cached.integration(), nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("integration cache read failed", "integration_id", id, "error", err)
	}

	gen, genErr := c.generation(ctx, id)

	integ, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if genErr == nil {
		c.fill(ctx, id, gen, integ)
	}
	return integ, nil
}

func (c *CachedStore) generation(ctx context.Context, id string) (int64, error) {
	gen, err := c.redis.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *CachedStore) fill(ctx context.Context, id string, gen int64, integ *Integration) {
	data, err := json.Marshal(toCached(integ))
	if err != nil {
		return
	}
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey(id)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(id), data, c.ttl)
			return nil
		})
		return err
	}, generationKey(id))
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("integration changed while loading; not cached", "integration_id", id)
	default:
		c.logger.Warn("integration cache write failed", "integration_id", id, "error", err)
	}
}

func (c *CachedStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Integration, error) {
	return c.inner.ListByStatus(ctx, statuses...)
}

func (c *CachedStore) ListExpiring(ctx context.Context, before time.Time) ([]Integration, error) {
	return c.inner.ListExpiring(ctx, before)
}

func (c *CachedStore) SaveTokens(ctx context.Context, id string, tokens TokenSet) error {
	if err := c.inner.SaveTokens(ctx, id, tokens); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *CachedStore) MarkError(ctx context.Context, id, reason string) error {
	if err := c.inner.MarkError(ctx, id, reason); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// Invalidate drops the cached row for id.
func (c *CachedStore) Invalidate(ctx context.Context, id string) {
	c.invalidate(ctx, id)
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Del(ctx, cacheKey(id))
		return nil
	})
	if err != nil {
		c.logger.Error("integration cache invalidation failed", "integration_id", id, "error", err)
	}
}
