package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authbridge/internal/biz"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisStateStore keeps pending states in Redis so any instance can serve
// the callback. Redis expires keys itself; Sweep has nothing to do.
type RedisStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// RedisOptions holds Redis connection settings.
type RedisOptions struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStateStore connects to Redis and checks the connection.
func NewRedisStateStore(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStateStoreWithClient(client, opts.KeyPrefix, ttl), nil
}

// NewRedisStateStoreWithClient creates a RedisStateStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStateStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = biz.DefaultStateTTL
	}
	return &RedisStateStore{client: client, keyPrefix: keyPrefix, ttl: ttl, now: time.Now}
}

func (s *RedisStateStore) key(state string) string {
	return s.keyPrefix + state
}

// Put stores a state with the store TTL. SET NX rejects duplicates atomically.
func (s *RedisStateStore) Put(ctx context.Context, st *biz.AuthorizationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(st.State), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}
	if !ok {
		return biz.ErrStateExists
	}
	return nil
}

// Consume atomically reads and deletes a state with GETDEL.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*biz.AuthorizationState, error) {
	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, biz.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	var st biz.AuthorizationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	// TTL should handle this, but double-check
	if st.Expired(s.now(), s.ttl) {
		return nil, biz.ErrStateNotFound
	}
	return &st, nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *RedisStateStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Close closes the Redis client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
