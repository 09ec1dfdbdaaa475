package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/backend/internal/service"
	"chat-relay/backend/pkg/errors"
)

// Relay is the chat behaviour the HTTP and WebSocket surfaces depend on
type Relay interface {
	HandleTurn(ctx context.Context, conversationID, text string) (*service.TurnResult, error)
	RegenerateLatest(ctx context.Context, conversationID, text string) (*service.TurnResult, error)
}

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ChatResponse is returned for every successful turn
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	AIResponse     string `json:"ai_response"`
}

// ChatController handles chat endpoints
type ChatController struct {
	relay Relay
}

// NewChatController creates a new chat controller
func NewChatController(relay Relay) *ChatController {
	return &ChatController{relay: relay}
}

// RegisterRoutes mounts the chat endpoints on group
func (h *ChatController) RegisterRoutes(group gin.IRoutes) {
	group.POST("/chat", h.PostChat)
	group.GET("/chat", h.GetChat)
}

// PostChat answers a JSON chat request
func (h *ChatController) PostChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalidBody(err))
		return
	}

	h.respond(c, req.ConversationID, req.Message)
}

// GetChat answers the query-string form used by older clients
func (h *ChatController) GetChat(c *gin.Context) {
	h.respond(c, c.Query("conversation_id"), c.Query("user_message"))
}

func (h *ChatController) respond(c *gin.Context, conversationID, message string) {
	res, err := h.relay.HandleTurn(c.Request.Context(), conversationID, message)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		ConversationID: res.ConversationID,
		AIResponse:     res.AIText,
	})
}

func invalidBody(err error) *errors.AppError {
	return errors.ValidationWithDetails("Invalid request body", map[string]any{"reason": err.Error()})
}
