package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps hashed codes in Redis under otp: keys, with the TTL
// enforcing expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otp:"}
}

func (s *RedisStore) key(phone string) string {
	return s.prefix + phone
}

func (s *RedisStore) SaveCode(ctx context.Context, phone, hash string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(phone), hash, ttl).Err(); err != nil {
		return fmt.Errorf("save otp code: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCode(ctx context.Context, phone string) (string, error) {
	hash, err := s.client.Get(ctx, s.key(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get otp code: %w", err)
	}
	return hash, nil
}

func (s *RedisStore) DeleteCode(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, s.key(phone)).Err(); err != nil {
		return fmt.Errorf("delete otp code: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
