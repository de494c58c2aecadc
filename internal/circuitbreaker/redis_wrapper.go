package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper routes Redis commands through a circuit breaker.
// redis.Nil is a lookup miss and never counts as a failure.
type RedisWrapper struct {
	client redis.UniversalClient
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a breaker-guarded Redis client.
func NewRedisWrapper(client redis.UniversalClient, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := SettingsFor("redis").ToConfig()
	config.IsFailure = func(err error) bool {
		return !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled)
	}
	cb := NewCircuitBreaker("redis", config, logger)
	DefaultRegistry.Register("session-store", cb)
	return &RedisWrapper{client: client, cb: cb, logger: logger}
}

func (rw *RedisWrapper) run(ctx context.Context, fn func() error) error {
	err := rw.cb.Execute(ctx, fn)
	if errors.Is(err, redis.Nil) {
		recordRequest(rw.cb.Name(), "session-store", rw.cb.State(), nil)
		return err
	}
	recordRequest(rw.cb.Name(), "session-store", rw.cb.State(), err)
	return err
}

// Ping checks connectivity.
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.run(ctx, func() error { return rw.client.Ping(ctx).Err() })
}

// Get returns the raw value of key, or redis.Nil when it does not exist.
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := rw.run(ctx, func() error {
		var err error
		out, err = rw.client.Get(ctx, key).Bytes()
		return err
	})
	return out, err
}

// MGet returns values for keys in order; missing keys yield nil entries.
func (rw *RedisWrapper) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var out []interface{}
	err := rw.run(ctx, func() error {
		var err error
		out, err = rw.client.MGet(ctx, keys...).Result()
		return err
	})
	return out, err
}

// Set stores value under key; ttl of 0 means no expiry.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rw.run(ctx, func() error { return rw.client.Set(ctx, key, value, ttl).Err() })
}

// Del removes keys.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	return rw.run(ctx, func() error { return rw.client.Del(ctx, keys...).Err() })
}

// ZRevRange returns sorted set members from highest to lowest score.
func (rw *RedisWrapper) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := rw.run(ctx, func() error {
		var err error
		out, err = rw.client.ZRevRange(ctx, key, start, stop).Result()
		return err
	})
	return out, err
}

// ZRem removes members from a sorted set.
func (rw *RedisWrapper) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return rw.run(ctx, func() error { return rw.client.ZRem(ctx, key, args...).Err() })
}

// TxPipelined runs fn inside MULTI/EXEC as a single breaker request.
func (rw *RedisWrapper) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	return rw.run(ctx, func() error {
		_, err := rw.client.TxPipelined(ctx, fn)
		return err
	})
}

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}
