// Package session stores the active session ids behind issued tokens.
// A token is only honored while its jti is present here, which makes
// logout effective before the absolute expiry.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps jti -> member id under session: keys. The key TTL
// matches the token's absolute expiry, so expired sessions vanish
// without a sweeper.
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
	return &RedisStore{client: client, prefix: "session:"}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + jti
}

func (s *RedisStore) SaveSession(ctx context.Context, jti, memberID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	if err := s.client.Set(ctx, s.key(jti), memberID, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LookupSession returns the member behind a live session. Missing or
// expired sessions surface as sql.ErrNoRows so callers treat both
// backends the same.
func (s *RedisStore) LookupSession(ctx context.Context, jti string) (string, error) {
	memberID, err := s.client.Get(ctx, s.key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	return memberID, nil
}

func (s *RedisStore) RevokeSession(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, s.key(jti)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
