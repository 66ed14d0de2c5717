package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedStore_ReadThrough(t *testing.T) {
	mr, client := setupTestRedis(t)
	inner := newMemStore(Integration{ID: "int-1", OrgID: "org-1", Status: StatusActive, RequestKey: "req-1"})
	cache := NewCachedStore(inner, client, time.Minute, nil)
	ctx := context.Background()

	first, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)
	second, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)

	assert.Equal(t, "req-1", first.RequestKey)
	assert.Equal(t, "req-1", second.RequestKey)
	assert.Equal(t, 1, inner.gets)
	assert.True(t, mr.Exists(cacheKey("int-1")))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey("int-1")))
}

func TestCachedStore_WriteInvalidates(t *testing.T) {
	mr, client := setupTestRedis(t)
	inner := newMemStore(Integration{ID: "int-1", Status: StatusActive, RequestKey: "req-1"})
	cache := NewCachedStore(inner, client, time.Minute, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)

	require.NoError(t, cache.SaveTokens(ctx, "int-1", TokenSet{RequestKey: "req-2", ExpiresAt: time.Now().Add(time.Hour)}))
	assert.False(t, mr.Exists(cacheKey("int-1")))

	got, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "req-2", got.RequestKey)

	require.NoError(t, cache.MarkError(ctx, "int-1", "401"))
	got, err = cache.Get(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, 3, inner.gets)
}

func TestCachedStore_WriteDuringFillIsNotOverwritten(t *testing.T) {
	mr, client := setupTestRedis(t)
	mem := newMemStore(Integration{ID: "int-1", Status: StatusActive, RequestKey: "old-key", RefreshKey: "r1"})
	inner := &pausingStore{memStore: mem}
	cache := NewCachedStore(inner, client, time.Minute, nil)
	ctx := context.Background()

	inner.afterRead = func() {
		require.NoError(t, cache.SaveTokens(ctx, "int-1", TokenSet{RequestKey: "new-key", RefreshKey: "r2", ExpiresAt: time.Now().Add(time.Hour)}))
	}

	stale, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "old-key", stale.RequestKey, "the racing read returns what it loaded")
	assert.False(t, mr.Exists(cacheKey("int-1")), "the old row must not be cached after the write")

	got, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "new-key", got.RequestKey)
}

func TestCachedStore_SecretsStayOutOfRedis(t *testing.T) {
	mr, client := setupTestRedis(t)
	inner := newMemStore(Integration{
		ID: "int-1", OrgID: "org-1", Status: StatusActive,
		OfficeID: "office-1", SecretKey: "super-secret",
		RequestKey: "req-1", RefreshKey: "ref-1",
	})
	cache := NewCachedStore(inner, client, time.Minute, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)

	raw, err := mr.Get(cacheKey("int-1"))
	require.NoError(t, err)
	assert.Contains(t, raw, "req-1")
	assert.NotContains(t, raw, "super-secret")
	assert.NotContains(t, raw, "ref-1")
	assert.NotContains(t, raw, "office-1")

	cached, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", cached.RequestKey)
	assert.Empty(t, cached.RefreshKey)
}

func TestManager_ReadsRefreshKeyPastCache(t *testing.T) {
	_, client := setupTestRedis(t)
	inner := newMemStore(Integration{ID: "int-1", OrgID: "org-1", Status: StatusActive, RequestKey: "req-1", RefreshKey: "ref-1"})
	cache := NewCachedStore(inner, client, time.Minute, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)

	grants := &fakeGrants{refresh: map[string]*TokenSet{
		"ref-1": {RequestKey: "req-2", RefreshKey: "ref-2", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	ok, err := NewManager(cache, grants, nil).Refresh(ctx, "int-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ref-2", inner.row("int-1").RefreshKey)

	got, err := cache.Get(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "req-2", got.RequestKey)
}

func TestGrantBudget(t *testing.T) {
	assert.Equal(t, 15*time.Second, GrantBudget(45*time.Second, 15*time.Second))
	assert.Equal(t, 5*time.Second, GrantBudget(15*time.Second, 15*time.Second))
	assert.Equal(t, 20*time.Second, GrantBudget(0, 0))
	assert.Less(t, 2*GrantBudget(30*time.Second, 15*time.Second), 30*time.Second)
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewCachedStore(newMemStore(), client, 0, nil)

	_, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
	assert.False(t, mr.Exists(cacheKey("missing")))
}

func TestCachedStore_RedisDownFallsThrough(t *testing.T) {
	mr, client := setupTestRedis(t)
	inner := newMemStore(Integration{ID: "int-1", Status: StatusActive})
	cache := NewCachedStore(inner, client, time.Minute, nil)
	mr.Close()

	got, err := cache.Get(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, "int-1", got.ID)
}

func TestRedisLocker(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)
	ctx := context.Background()

	err := locker.WithLock(ctx, "int-1", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:credentials:int-1"))
		inner := locker.WithLock(ctx, "int-1", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrRefreshInProgress)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:credentials:int-1"))
}
