package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/askwhyharsh/sonar/internal/ratelimit"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type WebSocketHandler interface {
	HandleWebSocket(c *gin.Context)
}

type RouteOptions struct {
	AllowedOrigins []string
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	Logger  logger.Logger
}

func SetupRoutes(r *gin.Engine, handler *Handler, wsHandler WebSocketHandler, sessions SessionValidator, rlMiddleware *ratelimit.Middleware, opts RouteOptions) {
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))
	if opts.Logger != nil {
		r.Use(RequestLogger(opts.Logger))
	}

	api := r.Group("/api")
	{
		// Health check (no rate limit)
		api.GET("/health", handler.Health)

		limited := api.Group("", rlMiddleware.IPRateLimit())

		limited.POST("/session/create", handler.CreateSession)
		limited.PATCH("/session/username", RequireSession(sessions), handler.UpdateUsername)

		radar := limited.Group("/radar", RequireSession(sessions))
		{
			radar.POST("/initialize", handler.InitializeRadar)
			radar.POST("/tracking/start", handler.StartTracking)
			radar.POST("/tracking/stop", handler.StopTracking)
			radar.POST("/refresh", rlMiddleware.RefreshRateLimit(), handler.Refresh)
			radar.GET("/nearby", handler.GetNearbyUsers)
			radar.GET("/permission", handler.GetPermission)
		}
	}

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// WebSocket route
	r.GET("/ws", wsHandler.HandleWebSocket)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Session-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
