package service

import (
	"context"

	"chat-relay/backend/internal/models"
	"chat-relay/backend/internal/repository"
	"chat-relay/backend/pkg/logger"
	"chat-relay/backend/pkg/metrics"
)

// ConversationService handles conversation CRUD
type ConversationService struct {
	store repository.ConversationStore
	log   *logger.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(store repository.ConversationStore, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &ConversationService{store: store, log: log}
}

// Create starts an empty conversation
func (s *ConversationService) Create(ctx context.Context) (*models.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ConversationCreated()
	logger.FromContext(ctx, s.log).WithConversationID(conv.ID).Info("Conversation created")
	return conv, nil
}

// List returns every conversation with its messages, newest first
func (s *ConversationService) List(ctx context.Context) ([]models.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Get returns one conversation with its messages
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// Delete removes a conversation and its messages
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	logger.FromContext(ctx, s.log).WithConversationID(id).Info("Conversation deleted")
	return nil
}
