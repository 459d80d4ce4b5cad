package middleware

import (
	"net/http"
	"time"

	"social-publisher/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

// RateLimit allows limit requests per window for each user, or each client IP
// when no user is known. Store failures let the request through.
func RateLimit(store limiter.Store, limit int, window time.Duration) gin.HandlerFunc {
	if store == nil || limit <= 0 || window <= 0 {
		return func(ctx *gin.Context) { ctx.Next() }
	}
	instance := limiter.New(store, limiter.Rate{Period: window, Limit: int64(limit)})
	return mgin.NewMiddleware(instance,
		mgin.WithKeyGetter(func(ctx *gin.Context) string {
			if user := ctx.GetString("user_id"); user != "" {
				return "user:" + user
			}
			return "ip:" + ctx.ClientIP()
		}),
		mgin.WithErrorHandler(func(ctx *gin.Context, err error) {
			logger.GetLogger().WithField("error", err).Warn("Rate limit store unavailable")
			ctx.Next()
		}),
		mgin.WithLimitReachedHandler(func(ctx *gin.Context) {
			ctx.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		}),
	)
}
