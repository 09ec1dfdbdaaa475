package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-relay/backend/pkg/health"
)

// Version is reported by the liveness endpoint
var Version = "dev"

// HealthController handles health check endpoints
type HealthController struct {
	checker *health.Checker
}

// HealthResponse represents the liveness response structure
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// NewHealthController creates a health controller. A nil checker reports
// liveness only.
func NewHealthController(checker *health.Checker) *HealthController {
	return &HealthController{checker: checker}
}

// Live reports that the process is serving requests
func (h *HealthController) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

// RegisterRoutes mounts /health and /health/live on group
func (h *HealthController) RegisterRoutes(group gin.IRoutes) {
	group.GET("/health/live", h.Live)
	if h.checker == nil {
		group.GET("/health", h.Live)
		return
	}
	group.GET("/health", h.checker.Handler())
}
