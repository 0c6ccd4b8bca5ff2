package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// snapshotPolicy asks the server to write an RDB snapshot after every minute
// with at least one change, so a backup survives a restart of the store too.
const snapshotPolicy = "60 1"

// RedisStore is a Store backed by a Redis server.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis parses a redis:// or rediss:// URL and verifies the server answers.
func OpenRedis(ctx context.Context, location string) (*RedisStore, error) {
	opts, err := redis.ParseURL(location)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// ConfigureSnapshots applies the snapshot policy on the server. Managed
// servers often refuse CONFIG; callers treat the error as a warning.
func (s *RedisStore) ConfigureSnapshots(ctx context.Context) error {
	return s.client.ConfigSet(ctx, "save", snapshotPolicy).Err()
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close implements Store.Close.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
