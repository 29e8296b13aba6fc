package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "parcel:1:view", []byte(`{"id":1}`), time.Minute))

	b, ok, err := c.Get(ctx, "parcel:1:view")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":1}`, string(b))

	require.NoError(t, c.Del(ctx, "parcel:1:view", "parcel:2:view"))
	_, ok, err = c.Get(ctx, "parcel:1:view")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Del(ctx))
	require.NoError(t, c.Ping(ctx))
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiterWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "relay:")

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "statusUpdate", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "statusUpdate", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "statusUpdate", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
	require.True(t, mr.Exists("relay:statusUpdate"))

	mr.FastForward(time.Minute + time.Second)
	ok, n, _ = rl.Allow(ctx, "statusUpdate", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRateLimiter_Unlimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	ok, _, err := rl.Allow(context.Background(), "x", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
