// Package storage provides state document storage implementations used to
// persist the metric store and the anomaly ledger across restarts.
package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the Store interface using Redis as a backend.
// It lets several processes share one persisted engine state.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// RedisOption customizes the Redis client.
type RedisOption func(*redis.Options)

// WithTLS dials Redis over TLS. A nil config is ignored.
func WithTLS(cfg *tls.Config) RedisOption {
	return func(o *redis.Options) {
		if cfg != nil {
			o.TLSConfig = cfg
		}
	}
}

// NewRedisStore creates a new Redis-backed store.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: Document expiration duration (0 keeps documents forever)
//
// Returns an error if the connection to Redis fails or if parameters are invalid.
func NewRedisStore(addr, password string, db int, ttl time.Duration, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl < 0 {
		return nil, errors.New("redis ttl must be >= 0")
	}

	options := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
	for _, opt := range opts {
		opt(options)
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func redisKey(key string) string {
	return fmt.Sprintf("vigil:state:%s", key)
}

// Put stores a document in Redis. The key format is "vigil:state:{key}".
func (r *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return errors.New("redis store is closed")
	}

	if err := r.client.Set(ctx, redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store document in redis: %w", err)
	}

	return nil
}

// Get retrieves the document stored under key.
//
// Returns:
//   - data: the stored bytes (nil if not found)
//   - found: true if the document exists, false if not found
//   - error: non-nil if an error occurred (excluding "not found")
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, false, errors.New("redis store is closed")
	}

	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get document from redis: %w", err)
	}

	return data, true, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}

	return err
}

// Ping checks the Redis connection health.
// Returns an error if the connection is unavailable.
func (r *RedisStore) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return errors.New("redis store is closed")
	}
	return r.client.Ping(ctx).Err()
}
