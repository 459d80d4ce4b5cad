package cache

import (
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterRedis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "social-publisher:ratelimit"

// NewRateLimitStore shares counters through Redis when a client is given and
// keeps them in process memory otherwise.
func NewRateLimitStore(client redis.UniversalClient) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), nil
	}
	return limiterRedis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: rateLimitPrefix})
}
