package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/metrics"
)

const (
	redisKeyPrefix = "research:session:"
	// Sorted set of session ids scored by creation time, used by List.
	redisIndexKey = "research:sessions"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL applies to every saved session. 0 keeps sessions forever.
	TTL time.Duration
	// MaxCached bounds the local read cache. 0 uses 1000.
	MaxCached int
}

// RedisStore keeps sessions in Redis with a small local read cache.
type RedisStore struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*ResearchSession
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	store := NewRedisStoreWithClient(circuitbreaker.NewRedisWrapper(client, logger), opts, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}

// NewRedisStoreWithClient builds a store around an existing wrapped client.
func NewRedisStoreWithClient(client *circuitbreaker.RedisWrapper, opts RedisOptions, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCached := opts.MaxCached
	if maxCached <= 0 {
		maxCached = 1000
	}
	return &RedisStore{
		client:      client,
		logger:      logger,
		ttl:         opts.TTL,
		localCache:  make(map[string]*ResearchSession),
		cacheAccess: make(map[string]time.Time),
		maxCached:   maxCached,
	}
}

func sessionKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) Save(ctx context.Context, s *ResearchSession) error {
	if s == nil || s.ID == "" {
		return &PersistenceError{Op: "save", Err: ErrInvalidSession}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return &PersistenceError{Op: "save", ID: s.ID, Err: fmt.Errorf("marshal session: %w", err)}
	}

	err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(s.ID), data, r.ttl)
		p.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(s.CreatedAt.UnixNano()), Member: s.ID})
		return nil
	})
	if err != nil {
		metrics.StoreOperations.WithLabelValues("redis", "save", "error").Inc()
		return &PersistenceError{Op: "save", ID: s.ID, Err: err}
	}
	metrics.StoreOperations.WithLabelValues("redis", "save", "success").Inc()

	r.mu.Lock()
	r.localCache[s.ID] = s.Clone()
	r.cacheAccess[s.ID] = time.Now()
	r.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
	r.mu.Unlock()
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*ResearchSession, error) {
	r.mu.Lock()
	if cached, ok := r.localCache[id]; ok {
		r.cacheAccess[id] = time.Now()
		r.mu.Unlock()
		metrics.SessionCacheHits.Inc()
		return cached.Clone(), nil
	}
	r.mu.Unlock()
	metrics.SessionCacheMisses.Inc()

	data, err := r.client.Get(ctx, sessionKey(id))
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		metrics.StoreOperations.WithLabelValues("redis", "get", "error").Inc()
		return nil, &PersistenceError{Op: "get", ID: id, Err: err}
	}
	var s ResearchSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &PersistenceError{Op: "get", ID: id, Err: fmt.Errorf("%w: %v", ErrInvalidSession, err)}
	}
	metrics.StoreOperations.WithLabelValues("redis", "get", "success").Inc()

	r.mu.Lock()
	r.localCache[id] = s.Clone()
	r.cacheAccess[id] = time.Now()
	r.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
	r.mu.Unlock()
	return &s, nil
}

// List reads the index and fetches documents in one MGET. Index entries whose
// document expired are pruned.
func (r *RedisStore) List(ctx context.Context) ([]*ResearchSession, error) {
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, 0, -1)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("redis", "list", "error").Inc()
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	if len(ids) == 0 {
		return []*ResearchSession{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("redis", "list", "error").Inc()
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	out := make([]*ResearchSession, 0, len(ids))
	var stale []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s ResearchSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			r.logger.Warn("Skipping undecodable session", zap.String("session_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, &s)
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, redisIndexKey, stale...); err != nil {
			r.logger.Warn("Failed to prune session index", zap.Int("count", len(stale)), zap.Error(err))
		}
	}
	metrics.StoreOperations.WithLabelValues("redis", "list", "success").Inc()
	SortNewestFirst(out)
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(id))
		p.ZRem(ctx, redisIndexKey, id)
		return nil
	})

	r.mu.Lock()
	delete(r.localCache, id)
	delete(r.cacheAccess, id)
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
	r.mu.Unlock()

	if err != nil {
		metrics.StoreOperations.WithLabelValues("redis", "delete", "error").Inc()
		return &PersistenceError{Op: "delete", ID: id, Err: err}
	}
	metrics.StoreOperations.WithLabelValues("redis", "delete", "success").Inc()
	return nil
}

// Ping reports Redis reachability.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// IsCircuitBreakerOpen reports whether Redis calls are being short-circuited.
func (r *RedisStore) IsCircuitBreakerOpen() bool {
	return r.client.IsCircuitBreakerOpen()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// cleanupLocalCache drops the least recently used half once the cache is full.
// Caller holds r.mu.
func (r *RedisStore) cleanupLocalCache() {
	if len(r.localCache) <= r.maxCached {
		return
	}
	ids := make([]string, 0, len(r.localCache))
	for id := range r.localCache {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.cacheAccess[ids[i]].Before(r.cacheAccess[ids[j]])
	})
	toRemove := r.maxCached / 2
	if toRemove == 0 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(ids); i++ {
		delete(r.localCache, ids[i])
		delete(r.cacheAccess, ids[i])
		metrics.SessionCacheEvictions.Inc()
	}
}
