package server

import (
	"slices"
	"time"

	httpHandler "social-publisher/interfaces/http"
	"social-publisher/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	SecretKey      string
	AllowedOrigins []string
}

type Handlers struct {
	Health     httpHandler.IHealthHandler
	Connection httpHandler.IConnectionHandler
	Post       httpHandler.IPostHandler
	// Stream serves the per-user ledger status SSE feed.
	Stream gin.HandlerFunc
	// Limiter is the rate limit middleware; nil disables it.
	Limiter gin.HandlerFunc
}

func InitiateRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) bool {
			return slices.Contains(cfg.AllowedOrigins, origin)
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/healthz", h.Health.Healthz)
	// The state token authenticates the callback; no bearer token is sent by the platform.
	router.GET("/auth/:platform/callback", h.Connection.Callback)

	api := router.Group("api")
	api.Use(middleware.Auth(cfg.SecretKey))
	if h.Limiter != nil {
		api.Use(h.Limiter)
	}

	connections := api.Group("/connections")
	{
		connections.POST("/authorize/:platform", h.Connection.Authorize)
		connections.GET("", h.Connection.List)
		connections.GET("/stats", h.Connection.Stats)
		connections.GET("/state/:state", h.Connection.ValidateState)
		connections.POST("/:accountId/refresh", h.Connection.Refresh)
		connections.DELETE("/:accountId", h.Connection.Disconnect)
	}

	posts := api.Group("/posts")
	{
		posts.POST("", h.Post.Create)
		if h.Stream != nil {
			posts.GET("/stream", h.Stream)
		}
		posts.GET("/:postId", h.Post.Get)
		posts.PUT("/:postId/accounts", h.Post.LinkAccounts)
		posts.DELETE("/:postId/accounts/:accountId", h.Post.UnlinkAccount)
		posts.POST("/:postId/schedule", h.Post.Schedule)
		posts.POST("/:postId/publish", h.Post.PublishNow)
		posts.POST("/:postId/accounts/:accountId/retry", h.Post.Retry)
	}

	return router
}
