package router

import (
	"chat-relay/backend/internal/api"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	health := api.NewHealthController(r.Container.Health)

	// Register both health endpoint paths for compatibility
	health.RegisterRoutes(r.Engine)
	health.RegisterRoutes(r.Engine.Group("/api"))
}
