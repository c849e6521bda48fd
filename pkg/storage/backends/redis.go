package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hypersim/hookengine/pkg/storage"
)

const defaultRedisDialTimeout = 5 * time.Second

// RedisBackend stores cache entries as Redis strings and expires them with
// EXPIRE, so a shared Redis serves several engine processes.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a new Redis storage backend
func NewRedisBackend() *RedisBackend {
	return &RedisBackend{}
}

// NewRedisBackendWithClient wraps an existing client. Init is not needed.
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

// Init reads url, or addr/password/db, plus prefix and dial_timeout, then pings
// the server.
func (r *RedisBackend) Init(config map[string]any) error {
	opts, err := redisOptions(config)
	if err != nil {
		return err
	}

	if prefix, ok := config["prefix"].(string); ok {
		r.prefix = strings.TrimSuffix(prefix, ":")
	}

	r.client = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.client.Close()
		r.client = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return nil
}

func redisOptions(config map[string]any) (*redis.Options, error) {
	var opts *redis.Options
	if url, _ := config["url"].(string); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("%w: redis url: %v", storage.ErrInvalidConfig, err)
		}
		opts = parsed
	} else {
		addr, _ := config["addr"].(string)
		if addr == "" {
			addr = "localhost:6379"
		}
		password, _ := config["password"].(string)

		// JSON and YAML decoders disagree on number types
		dbNum := 0
		switch db := config["db"].(type) {
		case float64:
			dbNum = int(db)
		case int:
			dbNum = db
		case int64:
			dbNum = int(db)
		}

		opts = &redis.Options{Addr: addr, Password: password, DB: dbNum}
	}

	opts.DialTimeout = defaultRedisDialTimeout
	switch v := config["dial_timeout"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: dial_timeout: %v", storage.ErrInvalidConfig, err)
		}
		opts.DialTimeout = d
	case time.Duration:
		opts.DialTimeout = v
	}
	return opts, nil
}

// Save stores data to Redis at the specified key
func (r *RedisBackend) Save(ctx context.Context, key string, data io.Reader) error {
	if r.client == nil {
		return storage.ErrBackendNotReady
	}
	fullKey := r.buildKey(key)

	dataBytes, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	if err := r.client.Set(ctx, fullKey, dataBytes, 0).Err(); err != nil {
		return fmt.Errorf("failed to save data to Redis key %s: %w", fullKey, err)
	}
	return nil
}

// Load retrieves data from Redis for the given key
func (r *RedisBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if r.client == nil {
		return nil, storage.ErrBackendNotReady
	}
	fullKey := r.buildKey(key)

	result, err := r.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get data from Redis key %s: %w", fullKey, err)
	}
	return io.NopCloser(bytes.NewReader(result)), nil
}

// Delete removes data from Redis for the given key
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return storage.ErrBackendNotReady
	}
	fullKey := r.buildKey(key)

	removed, err := r.client.Del(ctx, fullKey).Result()
	if err != nil {
		return fmt.Errorf("failed to delete data from Redis key %s: %w", fullKey, err)
	}
	if removed == 0 {
		return storage.ErrKeyNotFound
	}
	return nil
}

// Exists checks if data exists at the given key in Redis
func (r *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	if r.client == nil {
		return false, storage.ErrBackendNotReady
	}
	fullKey := r.buildKey(key)

	exists, err := r.client.Exists(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key existence in Redis key %s: %w", fullKey, err)
	}
	return exists > 0, nil
}

// List scans the keys matching prefix.
func (r *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if r.client == nil {
		return nil, storage.ErrBackendNotReady
	}
	pattern := r.buildKey(prefix) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.stripPrefix(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan Redis keys with pattern %s: %w", pattern, err)
	}
	return keys, nil
}

// SetExpiration expires key after ttl.
func (r *RedisBackend) SetExpiration(ctx context.Context, key string, ttl time.Duration) error {
	if r.client == nil {
		return storage.ErrBackendNotReady
	}
	fullKey := r.buildKey(key)

	if err := r.client.Expire(ctx, fullKey, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set expiration for Redis key %s: %w", fullKey, err)
	}
	return nil
}

// TTL returns the remaining time to live of key.
func (r *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	if r.client == nil {
		return 0, storage.ErrBackendNotReady
	}
	fullKey := r.buildKey(key)

	ttl, err := r.client.TTL(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get TTL for Redis key %s: %w", fullKey, err)
	}
	return ttl, nil
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// buildKey constructs the full Redis key including any configured prefix
func (r *RedisBackend) buildKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// stripPrefix removes the configured prefix from a Redis key to get the original key
func (r *RedisBackend) stripPrefix(redisKey string) string {
	if r.prefix == "" {
		return redisKey
	}
	return strings.TrimPrefix(redisKey, r.prefix+":")
}
