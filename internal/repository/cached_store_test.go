package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-relay/backend/internal/models"
	"chat-relay/backend/pkg/cache"
	"chat-relay/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts ListMessages calls that reach the database
type countingStore struct {
	ConversationStore
	lists int
}

func (c *countingStore) ListMessages(ctx context.Context, id string) ([]models.Message, error) {
	c.lists++
	return c.ConversationStore.ListMessages(ctx, id)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) Delete(context.Context, ...string) error { return errors.New("cache down") }

func newCached(t *testing.T, c cache.Store) (*CachedStore, *countingStore) {
	inner := &countingStore{ConversationStore: newStore(t)}
	return NewCachedStore(inner, c, time.Minute, logger.Nop()), inner
}

func TestCachedListServesRepeatReadsFromCache(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewCache(0, 0)
	defer mem.Close()
	s, inner := newCached(t, mem)

	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "hello", true, "")
	require.NoError(t, err)

	first, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	second, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.lists)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "hello", second[0].Content)
	assert.True(t, second[0].IsUser)
}

func TestCachedWritesInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewCache(0, 0)
	defer mem.Close()
	s, inner := newCached(t, mem)

	conv, _ := s.CreateConversation(ctx)
	_, _ = s.ListMessages(ctx, conv.ID)

	msg, err := s.AppendMessage(ctx, conv.ID, "hello", true, "")
	require.NoError(t, err)
	messages, _ := s.ListMessages(ctx, conv.ID)
	assert.Len(t, messages, 1)
	assert.Equal(t, 2, inner.lists)

	_, err = s.UpdateMessage(ctx, msg.ID, "edited")
	require.NoError(t, err)
	messages, _ = s.ListMessages(ctx, conv.ID)
	assert.Equal(t, "edited", messages[0].Content)
	assert.Equal(t, 3, inner.lists)
}

func TestCachedTransactionInvalidatesTouchedConversations(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewCache(0, 0)
	defer mem.Close()
	s, _ := newCached(t, mem)

	conv, _ := s.CreateConversation(ctx)
	_, _ = s.ListMessages(ctx, conv.ID)

	err := s.InTransaction(ctx, func(tx ConversationStore) error {
		if _, err := tx.AppendMessage(ctx, conv.ID, "q", true, ""); err != nil {
			return err
		}
		_, err := tx.AppendMessage(ctx, conv.ID, "a", false, "m")
		return err
	})
	require.NoError(t, err)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestCachedDeleteThenListIsNotFound(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewCache(0, 0)
	defer mem.Close()
	s, _ := newCached(t, mem)

	conv, _ := s.CreateConversation(ctx)
	_, _ = s.ListMessages(ctx, conv.ID)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	_, err := s.ListMessages(ctx, conv.ID)
	assert.Error(t, err)
}

func TestBrokenCacheFallsThrough(t *testing.T) {
	ctx := context.Background()
	s, inner := newCached(t, brokenCache{})

	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "hello", true, "")
	require.NoError(t, err)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, 1, inner.lists)
}

// interleavingStore runs afterList between loading history from the database
// and returning it, like a write landing while a read is in flight
type interleavingStore struct {
	ConversationStore
	afterList func()
}

func (s *interleavingStore) ListMessages(ctx context.Context, id string) ([]models.Message, error) {
	messages, err := s.ConversationStore.ListMessages(ctx, id)
	if s.afterList != nil {
		hook := s.afterList
		s.afterList = nil
		hook()
	}
	return messages, err
}

func TestCachedReadDoesNotPublishHistoryOlderThanAWrite(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewCache(0, 0)
	defer mem.Close()

	inner := &interleavingStore{ConversationStore: newStore(t)}
	s := NewCachedStore(inner, mem, time.Minute, logger.Nop())

	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)

	inner.afterList = func() {
		_, err := s.AppendMessage(ctx, conv.ID, "written meanwhile", true, "")
		require.NoError(t, err)
	}

	snapshot, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "written meanwhile", messages[0].Content)
}

func TestCachedStoresSharingABackendSeeEachOthersWrites(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewCache(0, 0)
	defer mem.Close()

	db := newStore(t)
	a := NewCachedStore(db, mem, time.Minute, logger.Nop())
	b := NewCachedStore(db, mem, time.Minute, logger.Nop())

	conv, err := a.CreateConversation(ctx)
	require.NoError(t, err)

	messages, err := a.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Empty(t, messages)

	_, err = b.AppendMessage(ctx, conv.ID, "from b", true, "")
	require.NoError(t, err)

	messages, err = a.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}
