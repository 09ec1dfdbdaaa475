package repository

import (
	"context"
	stderrors "errors"
	"time"

	"chat-relay/backend/internal/models"
	"chat-relay/backend/pkg/errors"

	"gorm.io/gorm"
)

// ConversationStore is the durable record of conversation turns.
// Every failure is an *errors.AppError: NotFound for unknown ids, Internal otherwise.
type ConversationStore interface {
	CreateConversation(ctx context.Context) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, content string, isUser bool, model string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	UpdateMessage(ctx context.Context, id uint64, content string) (*models.Message, error)
	// DeleteConversation removes the conversation and its messages. Deleting an
	// unknown or already deleted conversation is a NotFound error.
	DeleteConversation(ctx context.Context, id string) error
	// InTransaction runs fn against a store bound to a single transaction
	InTransaction(ctx context.Context, fn func(tx ConversationStore) error) error
}

// GormConversationStore implements ConversationStore on GORM
type GormConversationStore struct {
	db *gorm.DB
}

var _ ConversationStore = (*GormConversationStore)(nil)

// NewGormConversationStore creates a store on db
func NewGormConversationStore(db *gorm.DB) *GormConversationStore {
	return &GormConversationStore{db: db}
}

// AutoMigrate creates or updates the conversation tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Conversation{}, &models.Message{})
}

func conversationNotFound(id string) *errors.AppError {
	return errors.NotFoundWithDetails(errors.CodeConversationNotFound, "Conversation not found", map[string]any{"conversation_id": id})
}

func messageNotFound(id uint64) *errors.AppError {
	return errors.NotFoundWithDetails(errors.CodeMessageNotFound, "Message not found", map[string]any{"message_id": id})
}

func orderedMessages(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

func (s *GormConversationStore) CreateConversation(ctx context.Context) (*models.Conversation, error) {
	conv := &models.Conversation{Messages: []models.Message{}}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, errors.Internal("Failed to create conversation", err)
	}
	return conv, nil
}

func (s *GormConversationStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages", orderedMessages).
		First(&conv, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, conversationNotFound(id)
	}
	if err != nil {
		return nil, errors.Internal("Failed to load conversation", err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}

// ListConversations returns every conversation, newest first, with messages in order
func (s *GormConversationStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages", orderedMessages).
		Order("created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, errors.Internal("Failed to list conversations", err)
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []models.Message{}
		}
	}
	return convs, nil
}

func (s *GormConversationStore) AppendMessage(ctx context.Context, conversationID, content string, isUser bool, model string) (*models.Message, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Content:        content,
		IsUser:         isUser,
		Model:          model,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, errors.Internal("Failed to store message", err)
	}
	return msg, nil
}

func (s *GormConversationStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	messages := []models.Message{}
	err := orderedMessages(s.db.WithContext(ctx)).
		Where("conversation_id = ?", conversationID).
		Find(&messages).Error
	if err != nil {
		return nil, errors.Internal("Failed to load messages", err)
	}
	return messages, nil
}

// UpdateMessage replaces the content of a message. Id and creation time are kept.
func (s *GormConversationStore) UpdateMessage(ctx context.Context, id uint64, content string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, messageNotFound(id)
	}
	if err != nil {
		return nil, errors.Internal("Failed to load message", err)
	}

	now := time.Now()
	err = s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"content": content, "updated_at": now}).Error
	if err != nil {
		return nil, errors.Internal("Failed to update message", err)
	}

	msg.Content = content
	msg.UpdatedAt = now
	return &msg, nil
}

func (s *GormConversationStore) DeleteConversation(ctx context.Context, id string) error {
	return s.InTransaction(ctx, func(txStore ConversationStore) error {
		tx := txStore.(*GormConversationStore).db

		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return errors.Internal("Failed to delete messages", err)
		}

		res := tx.Where("id = ?", id).Delete(&models.Conversation{})
		if res.Error != nil {
			return errors.Internal("Failed to delete conversation", res.Error)
		}
		if res.RowsAffected == 0 {
			return conversationNotFound(id)
		}
		return nil
	})
}

func (s *GormConversationStore) InTransaction(ctx context.Context, fn func(tx ConversationStore) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormConversationStore{db: tx})
	})
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.Internal("Transaction failed", err)
}

// Ping checks the underlying connection
func (s *GormConversationStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormConversationStore) ensureConversation(ctx context.Context, id string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return errors.Internal("Failed to look up conversation", err)
	}
	if count == 0 {
		return conversationNotFound(id)
	}
	return nil
}
