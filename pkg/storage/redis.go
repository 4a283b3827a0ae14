package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores documents as plain string values. Writes overwrite.
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend parses url, applies opts and verifies the server answers PING.
func NewRedisBackend(ctx context.Context, url string, opts Options) (*RedisBackend, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		redisOpts.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		redisOpts.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		redisOpts.WriteTimeout = opts.WriteTimeout
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // closing after a failed ping
		return nil, fmt.Errorf("%w: ping redis: %v", ErrConnection, err)
	}
	return NewRedisBackendFromClient(client), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) StoreJSON(ctx context.Context, key string, value json.RawMessage) error {
	if err := r.client.Set(ctx, key, []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrConnection, key, err)
	}
	return nil
}

func (r *RedisBackend) RetrieveJSON(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %q: %v", ErrConnection, key, err)
	}
	if !json.Valid(raw) {
		return nil, false, fmt.Errorf("%w: key %q holds a non-JSON payload", ErrDecoding, key)
	}
	return raw, true, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: del %q: %v", ErrConnection, key, err)
	}
	return n > 0, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
