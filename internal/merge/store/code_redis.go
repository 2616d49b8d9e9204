package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"redpocket/internal/platform/redis"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

// RedisCodeStore keeps verification codes in redis with a native TTL, so
// expiry holds across restarts and multiple instances.
type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func codeKey(requestID id.MergeID) string {
	return "merge:code:" + requestID.String()
}

func (s *RedisCodeStore) Put(ctx context.Context, requestID id.MergeID, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, codeKey(requestID), code, ttl).Err(); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	return nil
}

// Get returns the stored code. Redis drops the key at TTL, so an expired and
// a never-stored code are indistinguishable here; both surface as
// sentinel.ErrNotFound.
func (s *RedisCodeStore) Get(ctx context.Context, requestID id.MergeID) (string, error) {
	code, err := s.client.Get(ctx, codeKey(requestID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load verification code: %w", err)
	}
	return code, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, requestID id.MergeID) error {
	if err := s.client.Del(ctx, codeKey(requestID)).Err(); err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	return nil
}
