package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bankdesk/internal/types"
)

// newTestRedisStore connects to REDIS_ADDR; the tests are skipped without it.
func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *redis.Client) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "bankdesk-test-" + string(types.NewRunID())
	store, err := NewRedisStore(client, prefix, ttl)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return store, client
}

func TestRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	sessionStoreContract(t, store)
}

func TestRedisStoreSetsTTL(t *testing.T) {
	store, client := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	session := newSession(types.NewSessionKey("telegram", "1", "2"))
	require.NoError(t, store.Create(ctx, session))

	ttl, err := client.TTL(ctx, store.sessionKey(session.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	keyTTL, err := client.TTL(ctx, store.channelKey(session.Key)).Result()
	require.NoError(t, err)
	assert.Greater(t, keyTTL, 59*time.Minute)
}

func TestRedisStoreListPrunesExpired(t *testing.T) {
	store, client := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	live := newSession("")
	gone := newSession("")
	require.NoError(t, store.Create(ctx, live))
	require.NoError(t, store.Create(ctx, gone))

	// Simulate expiry of one record
	require.NoError(t, client.Del(ctx, store.sessionKey(gone.ID)).Err())

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, live.ID, list[0].ID)

	n, err := client.ZCard(ctx, store.indexKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
