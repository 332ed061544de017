package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), mr.Addr(), "", 0, "test:", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_GetMiss(t *testing.T) {
	r, _ := newTestRedis(t, time.Minute)

	v, ok, err := r.Get(context.Background(), "absent")
	require.NoError(t, err, "redis.Nil is a miss, not an error")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestRedis_SetWithTTL(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "category:games", []byte("games")))
	assert.True(t, mr.Exists("test:category:games"), "keys are prefixed")
	assert.Equal(t, time.Minute, mr.TTL("test:category:games"))

	v, ok, err := r.Get(ctx, "category:games")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("games"), v)

	mr.FastForward(time.Minute)
	_, ok, err = r.Get(ctx, "category:games")
	require.NoError(t, err)
	assert.False(t, ok, "expired after TTL")
}

func TestRedis_Invalidate(t *testing.T) {
	r, mr := newTestRedis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "developer:first-verified", []byte("dev-1")))
	require.NoError(t, r.Invalidate(ctx, "developer:first-verified"))
	assert.False(t, mr.Exists("test:developer:first-verified"))

	_, ok, err := r.Get(ctx, "developer:first-verified")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Invalidate(ctx, "never-set"), "deleting a missing key is not an error")
}

func TestRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), addr, "", 0, "", time.Minute)
	assert.Error(t, err)
}

func TestRedis_ServerErrorSurfaces(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	mr.SetError("ERR injected failure")

	_, _, err := r.Get(context.Background(), "k")
	assert.Error(t, err)
}
