package voicesession

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultProcessedTTL bounds how long a forwarded report is remembered.
const DefaultProcessedTTL = 24 * time.Hour

// ProcessedStore records call events that were already forwarded so platform
// retries do not publish duplicates.
type ProcessedStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewProcessedStore creates a Redis-backed store.
func NewProcessedStore(redisClient *redis.Client, ttl time.Duration) *ProcessedStore {
	if redisClient == nil {
		panic("voicesession: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultProcessedTTL
	}
	return &ProcessedStore{redis: redisClient, ttl: ttl}
}

func (s *ProcessedStore) key(kind EventKind, callID string) string {
	return fmt.Sprintf("voice:processed:%s:%s", kind, callID)
}

// MarkProcessed records the event, returning false if it was already seen.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, kind EventKind, callID string) (bool, error) {
	first, err := s.redis.SetNX(ctx, s.key(kind, callID), time.Now().UTC().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("voicesession: mark processed: %w", err)
	}
	return first, nil
}
