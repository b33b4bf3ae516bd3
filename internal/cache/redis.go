package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"energy_prices/internal/store"
)

// RedisStore keeps artifacts as string values, for setups where several
// machines share one cache.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings the server. ttl 0 keeps keys forever.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisStoreFromClient(rdb, prefix, ttl), nil
}

func NewRedisStoreFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Key returns the redis key of a cached year, e.g. prices:day_ahead:NL:2023.
func (r *RedisStore) Key(key store.Key) string {
	return fmt.Sprintf("%s%s:%s:%d", r.prefix, key.Kind, key.Country, key.Year)
}

func (r *RedisStore) Load(ctx context.Context, key store.Key) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.Key(key), err)
	}
	return data, nil
}

// Save writes the whole artifact with one SET, which redis applies atomically.
func (r *RedisStore) Save(ctx context.Context, key store.Key, data []byte) error {
	if err := r.rdb.Set(ctx, r.Key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.Key(key), err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key store.Key) error {
	if err := r.rdb.Del(ctx, r.Key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.Key(key), err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
