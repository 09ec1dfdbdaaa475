package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_turns_total",
		Help:      "Chat turns by terminal state and the stage reached before it.",
	}, []string{"state", "stage"})

	upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_errors_total",
		Help:      "Failed upstream completion calls by provider and kind.",
	}, []string{"provider", "kind"})

	conversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_created_total",
		Help:      "Conversations created.",
	})
)

// ObserveTurn records the terminal state of a chat turn
func ObserveTurn(state, stage string) {
	chatTurns.WithLabelValues(state, stage).Inc()
}

// ObserveUpstreamError records a failed upstream call
func ObserveUpstreamError(provider, kind string) {
	upstreamErrors.WithLabelValues(provider, kind).Inc()
}

// ConversationCreated bumps the conversations counter
func ConversationCreated() {
	conversationsCreated.Inc()
}

// Middleware records request counts and latency per matched route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default Prometheus registry
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
