package repository

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss indicates the key does not exist or has expired.
var ErrCacheMiss = errors.New("cache: key not found")

// ICorrelationStore is the TTL key-value store behind pending OAuth flows.
//
// Get is a destructive read for OAuth state keys (model.ConnectionStateKey):
// among concurrent callers at most one observes the value. Peek never consumes.
type ICorrelationStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Peek(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
