package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	defer wrapper.Close()
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))
	require.NoError(t, wrapper.Set(ctx, "k", "v", time.Minute))

	got, err := wrapper.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	require.NoError(t, wrapper.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, "idx", redis.Z{Score: 1, Member: "a"})
		p.ZAdd(ctx, "idx", redis.Z{Score: 2, Member: "b"})
		return nil
	}))
	members, err := wrapper.ZRevRange(ctx, "idx", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, members)

	require.NoError(t, wrapper.ZRem(ctx, "idx", "b"))
	members, err = wrapper.ZRevRange(ctx, "idx", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	vals, err := wrapper.MGet(ctx, "k", "missing")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "v", vals[0])
	assert.Nil(t, vals[1])

	require.NoError(t, wrapper.Del(ctx, "k"))
	_, err = wrapper.Get(ctx, "k")
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestRedisWrapper_RedisNilHandling(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	defer wrapper.Close()

	for i := 0; i < 20; i++ {
		_, err := wrapper.Get(context.Background(), "nope")
		require.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen(), "redis.Nil must not trip the breaker")
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:9999",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	defer wrapper.Close()

	for i := 0; i < 5; i++ {
		_ = wrapper.Ping(context.Background())
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())
	assert.ErrorIs(t, wrapper.Ping(context.Background()), ErrCircuitBreakerOpen)
}
