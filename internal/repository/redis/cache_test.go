package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/client"
	"social-service/internal/repository"
)

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromOptions(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSessionCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestClient(t)
	cache := NewSessionCache(rc)

	require.NoError(t, cache.CreateSession(ctx, "tok-1", "identity-1", time.Hour))
	require.NoError(t, cache.CreateSession(ctx, "tok-2", "identity-1", time.Hour))

	id, err := cache.LookupSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "identity-1", id)

	tokens, err := cache.ActiveSessions(ctx, "identity-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, tokens)

	require.NoError(t, cache.RevokeSession(ctx, "tok-1"))
	_, err = cache.LookupSession(ctx, "tok-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	tokens, err = cache.ActiveSessions(ctx, "identity-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-2"}, tokens)

	require.NoError(t, cache.RevokeSession(ctx, "unknown"))

	mr.FastForward(2 * time.Hour)
	_, err = cache.LookupSession(ctx, "tok-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRateLimitCacheCountsWithinWindow(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestClient(t)
	cache := NewRateLimitCache(rc)

	failures, err := cache.Failures(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Zero(t, failures)

	for i := 1; i <= 3; i++ {
		count, err := cache.RecordFailure(ctx, "alice@example.com", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	failures, err = cache.Failures(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, failures)

	require.NoError(t, cache.Reset(ctx, "alice@example.com"))
	failures, err = cache.Failures(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Zero(t, failures)

	_, err = cache.RecordFailure(ctx, "bob@example.com", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	failures, err = cache.Failures(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Zero(t, failures)
}

func TestIdempotencyCacheKeepsFirstPayload(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestClient(t)
	cache := NewIdempotencyCache(rc)

	_, found, err := cache.Lookup(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)

	saved, err := cache.Save(ctx, "key", []byte(`{"status":201}`), time.Hour)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = cache.Save(ctx, "key", []byte(`{"status":409}`), time.Hour)
	require.NoError(t, err)
	assert.False(t, saved)

	payload, found, err := cache.Lookup(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"status":201}`, string(payload))

	require.NoError(t, cache.Put(ctx, "key", []byte(`{"status":200}`), time.Hour))
	payload, _, err = cache.Lookup(ctx, "key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":200}`, string(payload))

	require.NoError(t, cache.Delete(ctx, "key"))
	_, found, err = cache.Lookup(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
	saved, err = cache.Save(ctx, "key", []byte(`{"status":0}`), time.Hour)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestRedisClientHealthCheck(t *testing.T) {
	rc, _ := newTestClient(t)
	assert.NoError(t, rc.HealthCheck(context.Background()))
}
