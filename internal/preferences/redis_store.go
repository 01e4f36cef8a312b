package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "prefs:"
	keyBasemap  = "basemap"
)

// RedisStore keeps preferences in Redis so every process sees the same values.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisPrefix}
}

// Client exposes the underlying connection for components sharing it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// ActiveBasemapTag returns the stored tag; ok is false when none was set.
func (s *RedisStore) ActiveBasemapTag(ctx context.Context) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(keyBasemap)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read active basemap: %w", err)
	}
	return value, value != "", nil
}

// SetActiveBasemapTag records the active basemap tag.
func (s *RedisStore) SetActiveBasemapTag(ctx context.Context, tag string) error {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return ErrEmptyBasemapTag
	}
	if err := s.client.Set(ctx, s.key(keyBasemap), trimmed, 0).Err(); err != nil {
		return fmt.Errorf("save active basemap: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
