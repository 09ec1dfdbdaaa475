package repository

import (
	"context"
	"encoding/json"
	"time"

	"chat-relay/backend/internal/models"
	"chat-relay/backend/pkg/cache"
	"chat-relay/backend/pkg/logger"

	"github.com/google/uuid"
)

const (
	messagesKeyPrefix   = "chatrelay:messages:"
	generationKeyPrefix = "chatrelay:generation:"

	// generationTTLFactor keeps a generation alive longer than the entries
	// stamped with it
	generationTTLFactor = 4
)

// CachedStore caches ListMessages results in front of another store.
// Cache errors are logged and never fail the operation.
//
// Every conversation has a generation token in the cache. Writes replace the
// token, and an entry is only served while it carries the current token, so a
// read that loaded history before a write can never publish it afterwards.
type CachedStore struct {
	ConversationStore
	cache cache.Store
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedStore wraps inner with a read-through message cache
func NewCachedStore(inner ConversationStore, c cache.Store, ttl time.Duration, log *logger.Logger) *CachedStore {
	return &CachedStore{
		ConversationStore: inner,
		cache:             c,
		ttl:               ttl,
		log:               log,
	}
}

func messagesKey(conversationID string) string {
	return messagesKeyPrefix + conversationID
}

func generationKey(conversationID string) string {
	return generationKeyPrefix + conversationID
}

// cachedMessages is the cache entry for one conversation's history
type cachedMessages struct {
	Generation string           `json:"generation"`
	Messages   []models.Message `json:"messages"`
}

func (s *CachedStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	key := messagesKey(conversationID)

	// Read the generation before the database so a concurrent write
	// invalidates whatever this call stores
	gen := s.generation(ctx, conversationID)
	if gen != "" {
		if messages, ok := s.lookup(ctx, key, gen); ok {
			return messages, nil
		}
	}

	messages, err := s.ConversationStore.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if gen != "" {
		s.fill(ctx, key, gen, messages)
	}
	return messages, nil
}

// generation returns the current token for conversationID, creating one when
// absent. An empty result means the cache is unusable for this call.
func (s *CachedStore) generation(ctx context.Context, conversationID string) string {
	key := generationKey(conversationID)

	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Message cache read failed", "key", key, "error", err.Error())
		return ""
	}
	if ok && len(raw) > 0 {
		return string(raw)
	}
	return s.bump(ctx, conversationID)
}

// bump stores a fresh generation token and returns it, or "" on failure
func (s *CachedStore) bump(ctx context.Context, conversationID string) string {
	token := uuid.NewString()
	if err := s.cache.Set(ctx, generationKey(conversationID), []byte(token), s.generationTTL()); err != nil {
		s.log.Warn("Message cache generation write failed", "conversation_id", conversationID, "error", err.Error())
		return ""
	}
	return token
}

func (s *CachedStore) generationTTL() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	return s.ttl * generationTTLFactor
}

func (s *CachedStore) lookup(ctx context.Context, key, gen string) ([]models.Message, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Message cache read failed", "key", key, "error", err.Error())
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry cachedMessages
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.log.Warn("Discarding undecodable cache entry", "key", key)
		return nil, false
	}
	if entry.Generation != gen {
		return nil, false
	}
	return entry.Messages, true
}

func (s *CachedStore) fill(ctx context.Context, key, gen string, messages []models.Message) {
	raw, err := json.Marshal(cachedMessages{Generation: gen, Messages: messages})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.log.Warn("Message cache write failed", "key", key, "error", err.Error())
	}
}

func (s *CachedStore) AppendMessage(ctx context.Context, conversationID, content string, isUser bool, model string) (*models.Message, error) {
	msg, err := s.ConversationStore.AppendMessage(ctx, conversationID, content, isUser, model)
	s.invalidate(ctx, conversationID)
	return msg, err
}

func (s *CachedStore) UpdateMessage(ctx context.Context, id uint64, content string) (*models.Message, error) {
	msg, err := s.ConversationStore.UpdateMessage(ctx, id, content)
	if msg != nil {
		s.invalidate(ctx, msg.ConversationID)
	}
	return msg, err
}

func (s *CachedStore) DeleteConversation(ctx context.Context, id string) error {
	err := s.ConversationStore.DeleteConversation(ctx, id)
	s.invalidate(ctx, id)
	return err
}

// InTransaction runs fn on the inner store and drops cached entries for every
// conversation it wrote to once the transaction ends
func (s *CachedStore) InTransaction(ctx context.Context, fn func(tx ConversationStore) error) error {
	touched := &touchRecorder{ids: map[string]struct{}{}}
	err := s.ConversationStore.InTransaction(ctx, func(tx ConversationStore) error {
		touched.ConversationStore = tx
		return fn(touched)
	})
	for id := range touched.ids {
		s.invalidate(ctx, id)
	}
	return err
}

// invalidate retires the current generation of conversationID and drops its
// entry
func (s *CachedStore) invalidate(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	s.bump(ctx, conversationID)
	if err := s.cache.Delete(ctx, messagesKey(conversationID)); err != nil {
		s.log.Warn("Message cache invalidation failed", "conversation_id", conversationID, "error", err.Error())
	}
}

// touchRecorder notes which conversations a transaction writes to
type touchRecorder struct {
	ConversationStore
	ids map[string]struct{}
}

func (r *touchRecorder) AppendMessage(ctx context.Context, conversationID, content string, isUser bool, model string) (*models.Message, error) {
	r.ids[conversationID] = struct{}{}
	return r.ConversationStore.AppendMessage(ctx, conversationID, content, isUser, model)
}

func (r *touchRecorder) UpdateMessage(ctx context.Context, id uint64, content string) (*models.Message, error) {
	msg, err := r.ConversationStore.UpdateMessage(ctx, id, content)
	if msg != nil {
		r.ids[msg.ConversationID] = struct{}{}
	}
	return msg, err
}

func (r *touchRecorder) DeleteConversation(ctx context.Context, id string) error {
	r.ids[id] = struct{}{}
	return r.ConversationStore.DeleteConversation(ctx, id)
}
