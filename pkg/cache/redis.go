package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/assetgate/pkg/storage"
)

// RedisStore is the shared cache tier
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects using the storage Redis settings
func NewRedisStore(ctx context.Context, config storage.Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	// Tight timeouts: a slow cache must fail the stage, not stall it.
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	opts.PoolTimeout = time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, "assetgate:"), nil
}

// NewRedisStoreFromClient wraps an existing client. prefix namespaces every key.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) versionKey(key string) string {
	return r.prefix + "ver:" + key
}

// setIfVersion writes KEYS[1] only while KEYS[2] still holds ARGV[1].
// A missing counter reads as zero.
var setIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// Get implements Store.Get
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return data, true, nil
}

// GetTier implements TierReporter
func (r *RedisStore) GetTier(ctx context.Context, key string) ([]byte, string, bool, error) {
	value, found, err := r.Get(ctx, key)
	return value, "redis", found, err
}

// GetWithTTL reads the value and its remaining TTL in one round trip
func (r *RedisStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	if key == "" {
		return nil, 0, false, ErrInvalidKey
	}

	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, r.key(key))
		pttl = pipe.PTTL(ctx, r.key(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("redis get failed: %w", err)
	}

	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get failed: %w", err)
	}

	// PTTL is negative for keys without expiry; report zero and let the caller cap it.
	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return data, ttl, true, nil
}

// Set implements Store.Set
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete implements Store.Delete. Each key's version counter is advanced in
// the same transaction so in-flight fills from any process are rejected.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, prefixed...)
		for _, k := range keys {
			pipe.Incr(ctx, r.versionKey(k))
			pipe.PExpire(ctx, r.versionKey(k), versionTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Version implements VersionedStore
func (r *RedisStore) Version(ctx context.Context, key string) (Version, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	v, err := r.client.Get(ctx, r.versionKey(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis version read failed: %w", err)
	}
	return Version(v), nil
}

// SetIfVersion implements VersionedStore
func (r *RedisStore) SetIfVersion(ctx context.Context, key string, version Version, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	ttlMillis := ttl.Milliseconds()
	if ttl > 0 && ttlMillis == 0 {
		ttlMillis = 1
	}
	stored, err := setIfVersion.Run(ctx, r.client,
		[]string{r.key(key), r.versionKey(key)},
		strconv.FormatUint(uint64(version), 10), value, ttlMillis,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis guarded set failed: %w", err)
	}
	return stored == 1, nil
}

// Ping checks Redis connectivity
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
