package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"chat-relay/backend/internal/api"
	"chat-relay/backend/internal/ws"
	"chat-relay/backend/pkg/config"
	"chat-relay/backend/pkg/di"
	"chat-relay/backend/pkg/errors"
	"chat-relay/backend/pkg/logger"
	"chat-relay/backend/pkg/metrics"
	"chat-relay/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Hub         *ws.Hub
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
	api         *gin.RouterGroup
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(middleware.RequestIDMiddleware())

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(metrics.Middleware())

	// Add custom error handler middleware
	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
	})

	// Health and metrics stay outside the rate limit
	apiGroup := engine.Group("")
	apiGroup.Use(middleware.BodyLimit(cfg.Security.MaxBodySize))
	if cfg.Security.RateLimit > 0 {
		apiGroup.Use(rateLimiter.Middleware())
	}

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Hub:         ws.NewHub(container.Logger),
		Config:      cfg,
		rateLimiter: rateLimiter,
		api:         apiGroup,
	}
}

// Start runs the background workers owned by the router until ctx is done
func (r *Router) Start(ctx context.Context) {
	go r.Hub.Run(ctx)
	r.rateLimiter.StartCleanup(ctx)
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()
	r.Engine.GET("/metrics", metrics.Handler())

	if path := r.Config.Observability.OpenAPISchemaPath; path != "" {
		r.AddOpenAPIValidation(path)
	}

	chat := api.NewChatController(r.Container.Relay)
	chat.RegisterRoutes(r.api)
	chat.RegisterRoutes(r.api.Group("/api"))

	api.NewConversationController(r.Container.Conversations, r.Container.Relay).RegisterRoutes(r.api)

	wsHandler := ws.NewHandler(r.Hub, r.Container.Relay, r.Config.Security.AllowedOrigins, r.Logger)
	r.api.GET("/ws/chat", wsHandler.ServeWs)
}

// corsMiddleware allows the configured origins, including WebSocket upgrades
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[strings.ToLower(o)] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && origins[strings.ToLower(origin)]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
