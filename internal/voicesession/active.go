package voicesession

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultActiveWindow bounds how long a call counts as active without an end event.
const DefaultActiveWindow = 2 * time.Hour

// ActiveCalls tracks the calls each clinic currently has on the line in a Redis
// sorted set scored by start time. Members older than the window are pruned on
// count so a lost end event cannot inflate the total forever.
type ActiveCalls struct {
	redis  *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewActiveCalls creates a tracker. A non-positive window uses DefaultActiveWindow.
func NewActiveCalls(redisClient *redis.Client, window time.Duration) *ActiveCalls {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	return &ActiveCalls{
		redis:  redisClient,
		window: window,
		now:    time.Now,
	}
}

func activeKey(orgID string) string {
	return fmt.Sprintf("voice:active:%s", orgID)
}

// Start marks a call active. Starting the same call twice keeps one entry.
func (a *ActiveCalls) Start(ctx context.Context, orgID, callID string) error {
	if orgID == "" || callID == "" {
		return errors.New("voicesession: org_id and call_id required")
	}
	key := activeKey(orgID)
	_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, key, redis.Z{Score: float64(a.now().Unix()), Member: callID})
		pipe.Expire(ctx, key, a.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("voicesession: start active call: %w", err)
	}
	return nil
}

// End removes a call. Ending an unknown call is a no-op.
func (a *ActiveCalls) End(ctx context.Context, orgID, callID string) error {
	if orgID == "" || callID == "" {
		return nil
	}
	if err := a.redis.ZRem(ctx, activeKey(orgID), callID).Err(); err != nil {
		return fmt.Errorf("voicesession: end active call: %w", err)
	}
	return nil
}

// Count returns the number of calls started within the window and not ended.
func (a *ActiveCalls) Count(ctx context.Context, orgID string) (int, error) {
	key := activeKey(orgID)
	cutoff := a.now().Add(-a.window).Unix()

	var card *redis.IntCmd
	_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("voicesession: count active calls: %w", err)
	}
	return int(card.Val()), nil
}
