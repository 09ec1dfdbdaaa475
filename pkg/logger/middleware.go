package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Middleware returns a Gin middleware function that logs requests
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("requestID")
		if requestID == "" {
			requestID = c.GetHeader("X-Request-ID")
		}
		if requestID == "" {
			requestID = uuid.New().String()
			c.Set("requestID", requestID)
		}
		c.Header("X-Request-ID", requestID)

		reqLogger := logger.WithRequestID(requestID)

		// Handlers and services pick the logger up from either place
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), reqLogger))

		start := time.Now()

		c.Next()

		reqLogger.LogRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
