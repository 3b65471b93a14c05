package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messmate/messmate/pkg/storage"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := storage.DefaultConfig()
	return NewRedisClientWith(client, cfg), mr
}

func TestRedisClient_GetSetJSON(t *testing.T) {
	rc, _ := newTestRedis(t)
	ctx := context.Background()

	type plan struct {
		ID      int64  `json:"id"`
		Credits int64  `json:"credits"`
		Name    string `json:"name"`
	}

	require.NoError(t, rc.SetJSON(ctx, "plans:3", "plans", plan{ID: 3, Credits: 5000, Name: "Monthly"}))

	var got plan
	found, err := rc.GetJSON(ctx, "plans:3", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(5000), got.Credits)
}

func TestRedisClient_GetJSONMiss(t *testing.T) {
	rc, _ := newTestRedis(t)

	var dest map[string]interface{}
	found, err := rc.GetJSON(context.Background(), "missing", &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisClient_CorruptEntryDropped(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("plans:bad", "{not json"))

	var dest map[string]interface{}
	found, err := rc.GetJSON(ctx, "plans:bad", &dest)
	assert.False(t, found)
	assert.Error(t, err)

	// The corrupt key must be evicted so the next read goes to postgres.
	assert.False(t, mr.Exists("plans:bad"))
}

func TestRedisClient_SetJSONUsesConfiguredTTL(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.SetJSON(ctx, "balance:7", "balance", int64(1500)))
	assert.Equal(t, 30*time.Second, mr.TTL("balance:7"))

	// Unknown TTL names fall back to five minutes.
	require.NoError(t, rc.SetJSON(ctx, "other:1", "unknown", "x"))
	assert.Equal(t, 5*time.Minute, mr.TTL("other:1"))
}

func TestRedisClient_Invalidate(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("slabs:all", `[]`))
	require.NoError(t, mr.Set("plans:all", `[]`))

	require.NoError(t, rc.Invalidate(ctx, "slabs:all", "plans:all"))
	assert.False(t, mr.Exists("slabs:all"))
	assert.False(t, mr.Exists("plans:all"))

	// Zero keys is a no-op, not an error.
	require.NoError(t, rc.Invalidate(ctx))
}

func TestRedisClient_Ping(t *testing.T) {
	rc, mr := newTestRedis(t)
	require.NoError(t, rc.Ping(context.Background()))

	mr.Close()
	assert.Error(t, rc.Ping(context.Background()))
}
