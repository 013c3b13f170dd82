package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/swapmeet/swapmeet-backend/internal/config"
	"github.com/swapmeet/swapmeet-backend/internal/handler"
	"github.com/swapmeet/swapmeet-backend/internal/middleware"
	"github.com/swapmeet/swapmeet-backend/pkg/jwt"
)

// Handlers groups every HTTP entry point
type Handlers struct {
	Message      *handler.MessageHandler
	Presence     *handler.PresenceHandler
	Notification *handler.NotificationHandler
	WS           *handler.WSHandler
}

// Setup configures all API routes
func Setup(
	router *gin.Engine,
	h Handlers,
	jwtManager *jwt.Manager,
	redisClient *redis.Client,
	cfg *config.Config,
) {
	// Realtime channel; authentication happens in-band
	router.GET("/ws", h.WS.Connect)

	api := router.Group("/api/v1")
	auth := middleware.JWTAuth(jwtManager)

	// Messages
	messages := api.Group("/messages", auth)
	messages.POST("", h.Message.SendMessage)
	messages.GET("", h.Message.ListMessages)
	messages.GET("/threads", h.Message.ListThreads)
	messages.GET("/unread-count", h.Message.UnreadCount)
	messages.POST("/read", h.Message.MarkThreadRead)
	messages.POST("/:id/read", h.Message.MarkRead)

	// Presence
	heartbeatLimit := middleware.RateLimitPerUser(redisClient, middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Presence.HeartbeatsPerMinute,
		KeyPrefix:         "ratelimit:presence:",
		Message:           "Too many heartbeats",
	})
	statusLimit := middleware.RateLimit(redisClient, middleware.DefaultRateLimitConfig())
	presence := api.Group("/presence")
	presence.POST("/heartbeat", auth, heartbeatLimit, h.Presence.Heartbeat)
	presence.GET("/status/:userId", statusLimit, h.Presence.Status)
	presence.POST("/status/batch", statusLimit, h.Presence.StatusBatch)

	// Notification prompt
	notifications := api.Group("/notifications", auth)
	notifications.GET("/prompt", h.Notification.GetPrompt)
	notifications.POST("/prompt/dismiss", h.Notification.DismissPrompt)
}
