package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/backend/internal/testutil"
	"chat-relay/backend/pkg/config"
	"chat-relay/backend/pkg/di"
	"chat-relay/backend/pkg/logger"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Env = "test"
	cfg.Upstream.Provider = config.ProviderCanned
	cfg.Upstream.Model = "canned"
	cfg.Upstream.Timeout = time.Second
	cfg.Chat.MaxMessageLength = 8000
	cfg.Security.RateLimit = 100
	cfg.Security.RateLimitBurst = 100
	cfg.Security.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Security.MaxBodySize = 1 << 20
	cfg.Cache.Backend = di.CacheMemory
	cfg.Cache.TTL = time.Minute
	cfg.Cache.PurgeWindow = time.Minute
	cfg.Cache.MaxSize = 100
	cfg.Resilience.FailureThreshold = 5
	cfg.Resilience.SuccessThreshold = 1
	cfg.Resilience.OpenTimeout = time.Second
	cfg.Observability.HealthCheckPeriod = time.Minute
	return cfg
}

func newRouter(t *testing.T, cfg *config.Config) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	container, err := di.New(context.Background(), cfg, testutil.NewTestDB(t), logger.Nop(), di.Options{})
	require.NoError(t, err)
	t.Cleanup(container.Close)

	r := New(container)
	r.SetupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	return r
}

func serve(r *Router, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestChatRoundTripThroughFullStack(t *testing.T) {
	r := newRouter(t, testConfig())

	w := serve(r, http.MethodPost, "/chat", `{"message":"hello"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		ConversationID string `json:"conversation_id"`
		AIResponse     string `json:"ai_response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.NotEmpty(t, resp.AIResponse)

	w = serve(r, http.MethodPost, "/api/chat", `{"message":"thanks","conversation_id":"`+resp.ConversationID+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/conversations/"+resp.ConversationID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conv struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Len(t, conv.Messages, 4)

	w = serve(r, http.MethodDelete, "/conversations/"+resp.ConversationID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(r, http.MethodDelete, "/conversations/"+resp.ConversationID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	r := newRouter(t, testConfig())
	r.Container.Health.RunChecks(context.Background())

	for _, path := range []string{"/health", "/api/health", "/health/live"} {
		w := serve(r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t, testConfig())
	serve(r, http.MethodGet, "/health/live", "", nil)

	w := serve(r, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_relay_http_requests_total")
}

func TestCORS(t *testing.T) {
	r := newRouter(t, testConfig())

	w := serve(r, http.MethodOptions, "/chat", "", http.Header{"Origin": []string{"https://app.example.com"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	w = serve(r, http.MethodOptions, "/chat", "", http.Header{"Origin": []string{"https://other.example.com"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitSparesHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit = 0.0001
	cfg.Security.RateLimitBurst = 1
	r := newRouter(t, cfg)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/conversations", "", nil).Code)

	w := serve(r, http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health/live", "", nil).Code)
}

func TestOpenAPIValidationRejectsBadBody(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.OpenAPISchemaPath = "../../api/openapi.yaml"
	r := newRouter(t, cfg)

	w := serve(r, http.MethodPost, "/chat", `{"message":42}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	w = serve(r, http.MethodPost, "/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(r, http.MethodGet, "/api/docs/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
