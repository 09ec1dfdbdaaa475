package repository

import (
	"context"
	"net/http"
	"testing"
	"time"

	"chat-relay/backend/internal/testutil"
	"chat-relay/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *GormConversationStore {
	return NewGormConversationStore(testutil.NewTestDB(t))
}

func TestFreshConversationHasNoMessages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.False(t, conv.CreatedAt.IsZero())

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestAppendThenListPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)

	texts := []string{"Hello", "Hi there!", "How are you?", "Fine."}
	for i, text := range texts {
		_, err := s.AppendMessage(ctx, conv.ID, text, i%2 == 0, "")
		require.NoError(t, err)
	}

	last, err := s.AppendMessage(ctx, conv.ID, "Bye", true, "")
	require.NoError(t, err)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, text := range texts {
		assert.Equal(t, text, messages[i].Content)
		assert.Equal(t, i%2 == 0, messages[i].IsUser)
	}
	assert.Equal(t, last.ID, messages[4].ID)
	assert.Equal(t, "Bye", messages[4].Content)
}

func TestAppendRecordsModel(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	conv, _ := s.CreateConversation(ctx)

	msg, err := s.AppendMessage(ctx, conv.ID, "reply", false, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", msg.Model)
	assert.Equal(t, "assistant", msg.Role())
}

func TestUnknownConversationIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.AppendMessage(ctx, "missing", "hi", true, "")
	assert.True(t, errors.HasStatus(err, http.StatusNotFound))

	_, err = s.ListMessages(ctx, "missing")
	assert.True(t, errors.HasStatus(err, http.StatusNotFound))

	_, err = s.GetConversation(ctx, "missing")
	assert.True(t, errors.HasStatus(err, http.StatusNotFound))
	assert.Equal(t, errors.CodeConversationNotFound, errors.GetErrorCode(err))
}

func TestUpdateMessage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	conv, _ := s.CreateConversation(ctx)
	orig, err := s.AppendMessage(ctx, conv.ID, "first draft", true, "")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	updated, err := s.UpdateMessage(ctx, orig.ID, "second draft")
	require.NoError(t, err)

	assert.Equal(t, orig.ID, updated.ID)
	assert.Equal(t, "second draft", updated.Content)
	assert.True(t, orig.CreatedAt.Equal(updated.CreatedAt))

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "second draft", messages[0].Content)
	assert.True(t, orig.CreatedAt.Equal(messages[0].CreatedAt))
}

func TestUpdateUnknownMessageIsNotFound(t *testing.T) {
	_, err := newStore(t).UpdateMessage(context.Background(), 9999, "x")

	require.Error(t, err)
	assert.Equal(t, errors.CodeMessageNotFound, errors.GetErrorCode(err))
	assert.Equal(t, http.StatusNotFound, errors.GetStatusCode(err))
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	conv, _ := s.CreateConversation(ctx)
	msg, _ := s.AppendMessage(ctx, conv.ID, "hello", true, "")

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	_, err := s.GetConversation(ctx, conv.ID)
	assert.True(t, errors.HasStatus(err, http.StatusNotFound))

	_, err = s.UpdateMessage(ctx, msg.ID, "ghost")
	assert.True(t, errors.HasStatus(err, http.StatusNotFound), "messages go with their conversation")

	err = s.DeleteConversation(ctx, conv.ID)
	assert.True(t, errors.HasStatus(err, http.StatusNotFound), "second delete reports not found")
}

func TestListConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	older, _ := s.CreateConversation(ctx)
	_, _ = s.AppendMessage(ctx, older.ID, "a", true, "")
	_, _ = s.AppendMessage(ctx, older.ID, "b", false, "")
	time.Sleep(2 * time.Millisecond)
	newer, _ := s.CreateConversation(ctx)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.Empty(t, convs[0].Messages)
	assert.Equal(t, older.ID, convs[1].ID)
	require.Len(t, convs[1].Messages, 2)
	assert.Equal(t, "a", convs[1].Messages[0].Content)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	conv, _ := s.CreateConversation(ctx)

	err := s.InTransaction(ctx, func(tx ConversationStore) error {
		if _, err := tx.AppendMessage(ctx, conv.ID, "user turn", true, ""); err != nil {
			return err
		}
		_, err := tx.AppendMessage(ctx, "missing", "assistant turn", false, "")
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.HasStatus(err, http.StatusNotFound))

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
