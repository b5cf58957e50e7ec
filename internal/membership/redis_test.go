package membership

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("GRAIN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GRAIN_TEST_REDIS_ADDR not set, skipping redis-backed test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, "grain:test:"+t.Name())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, store.prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})

	return store
}

// TestRedisStoreSanity exercises push/active/failure tracking against a
// live Redis backend.
func TestRedisStoreSanity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.Push(ctx, Member{Addr: "0.0.0.0:5000"}))

	active, err := store.IsActive(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, store.SetActive(ctx, "0.0.0.0:5000", true))
	active, err = store.IsActive(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.True(t, active)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.NotifyFailure(ctx, "0.0.0.0:5000"))
	}
	failures, err := store.MemberFailures(ctx, "0.0.0.0:5000")
	require.NoError(t, err)
	require.Len(t, failures, 3)
}
