package cache

import (
	"context"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/redis/go-redis/v9"
)

var _ repository.ICorrelationStore = (*RedisStore)(nil)

// RedisStore backs the correlation store with Redis so every instance sees the same state.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Get consumes OAuth state keys atomically with GETDEL.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if model.IsConnectionStateKey(key) {
		return s.result(s.client.GetDel(ctx, s.prefix+key).Bytes())
	}
	return s.Peek(ctx, key)
}

func (s *RedisStore) Peek(ctx context.Context, key string) ([]byte, error) {
	return s.result(s.client.Get(ctx, s.prefix+key).Bytes())
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) result(b []byte, err error) ([]byte, error) {
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
