package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/backend/internal/models"
)

// Conversations is the conversation CRUD the HTTP surface depends on
type Conversations interface {
	Create(ctx context.Context) (*models.Conversation, error)
	List(ctx context.Context) ([]models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// RegenerateRequest is the body of PUT and PATCH /conversations/:id
type RegenerateRequest struct {
	Message string `json:"message"`
}

// ConversationController handles conversation endpoints
type ConversationController struct {
	conversations Conversations
	relay         Relay
}

// NewConversationController creates a new conversation controller
func NewConversationController(conversations Conversations, relay Relay) *ConversationController {
	return &ConversationController{conversations: conversations, relay: relay}
}

// RegisterRoutes mounts the conversation endpoints on group
func (h *ConversationController) RegisterRoutes(group gin.IRoutes) {
	group.GET("/conversations", h.ListConversations)
	group.POST("/conversations", h.CreateConversation)
	group.GET("/conversations/:id", h.GetConversation)
	group.PUT("/conversations/:id", h.RegenerateLatest)
	group.PATCH("/conversations/:id", h.RegenerateLatest)
	group.DELETE("/conversations/:id", h.DeleteConversation)
}

// ListConversations returns every conversation with its messages
func (h *ConversationController) ListConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// CreateConversation starts an empty conversation
func (h *ConversationController) CreateConversation(c *gin.Context) {
	conv, err := h.conversations.Create(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// GetConversation returns one conversation with its messages
func (h *ConversationController) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// RegenerateLatest replaces the latest user message and regenerates the reply
func (h *ConversationController) RegenerateLatest(c *gin.Context) {
	var req RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalidBody(err))
		return
	}

	res, err := h.relay.RegenerateLatest(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		ConversationID: res.ConversationID,
		AIResponse:     res.AIText,
	})
}

// DeleteConversation removes a conversation and its messages
func (h *ConversationController) DeleteConversation(c *gin.Context) {
	if err := h.conversations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
