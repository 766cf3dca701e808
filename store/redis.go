package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "castrilha:"

// RedisStore implements KV using Redis string values without expiry.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedis creates a new Redis store from a Redis client and a key prefix.
// prefix typically ends with a colon.
func NewRedis(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:  client,
		prefix:  keyPrefix,
		timeout: 5 * time.Second,
	}
}

// RedisConfig contains configuration options for Redis.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string `yaml:"addr" toml:"addr"`

	// Password is the Redis password (empty for no auth)
	Password string `yaml:"password" toml:"password"`

	// DB is the Redis database number (0-15)
	DB int `yaml:"db" toml:"db"`

	// KeyPrefix is prepended to all keys (default: "castrilha:")
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

// NewRedisFromConfig connects to Redis and creates a store.
func NewRedisFromConfig(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	return NewRedis(client, cfg.KeyPrefix), nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: failed to get key: %w", err)
	}
	return v, nil
}

// Set stores value under key with no TTL.
func (s *RedisStore) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to set key: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete key: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
