package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcs89/Instagram-Message-Router/pkg/models"
)

func newConversation(id, sender string, status models.Status, lastMessageAt time.Time) *models.Conversation {
	return &models.Conversation{
		ID:            id,
		SenderID:      sender,
		RecipientID:   "acct_1",
		Status:        status,
		CreatedAt:     lastMessageAt,
		LastMessageAt: lastMessageAt,
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	conv := newConversation("conv_1", "user_1", models.StatusNew, time.Now())
	require.NoError(t, m.CreateConversation(ctx, conv))
	assert.Equal(t, int64(1), conv.Version)

	got, err := m.GetConversation(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.SenderID)

	_, err = m.GetConversation(ctx, "conv_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateVersionConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	conv := newConversation("conv_1", "user_1", models.StatusNew, time.Now())
	require.NoError(t, m.CreateConversation(ctx, conv))

	first, err := m.GetConversation(ctx, "conv_1")
	require.NoError(t, err)
	second, err := m.GetConversation(ctx, "conv_1")
	require.NoError(t, err)

	first.Status = models.StatusAssigned
	require.NoError(t, m.UpdateConversation(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	// The stale reader's write must be rejected.
	second.Status = models.StatusResolved
	assert.ErrorIs(t, m.UpdateConversation(ctx, second), ErrVersionConflict)

	got, err := m.GetConversation(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)
}

func TestMemory_FindRoutablePrefersOpen(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.CreateConversation(ctx, newConversation("conv_old", "user_1", models.StatusResolved, now)))
	require.NoError(t, m.CreateConversation(ctx, newConversation("conv_open", "user_1", models.StatusAssigned, now.Add(-time.Hour))))

	got, err := m.FindRoutable(ctx, "user_1", "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "conv_open", got.ID)
}

func TestMemory_FindRoutableLatestResolved(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.CreateConversation(ctx, newConversation("conv_a", "user_1", models.StatusResolved, now.Add(-48*time.Hour))))
	require.NoError(t, m.CreateConversation(ctx, newConversation("conv_b", "user_1", models.StatusResolved, now.Add(-2*time.Hour))))

	got, err := m.FindRoutable(ctx, "user_1", "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "conv_b", got.ID)

	_, err = m.FindRoutable(ctx, "user_2", "acct_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListConversationsFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	a := newConversation("conv_a", "user_1", models.StatusNew, now)
	a.Category = "feedback"
	b := newConversation("conv_b", "user_2", models.StatusAssigned, now.Add(time.Minute))
	b.Category = "cooperation"
	b.AssigneeID = "anna"
	require.NoError(t, m.CreateConversation(ctx, a))
	require.NoError(t, m.CreateConversation(ctx, b))

	out, err := m.ListConversations(ctx, Filter{Status: models.StatusAssigned})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "conv_b", out[0].ID)

	out, err = m.ListConversations(ctx, Filter{Category: "feedback"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "conv_a", out[0].ID)

	out, err = m.ListConversations(ctx, Filter{AssigneeID: "anna"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "conv_b", out[0].ID)

	// Newest first, limit applies after sorting.
	out, err = m.ListConversations(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "conv_b", out[0].ID)
}

func TestMemory_MessagesAppendOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.AppendMessage(ctx, &models.Message{
		ID: "mid.1", ConversationID: "conv_1", Direction: models.DirectionInbound, Text: "hi", SentAt: now,
	}))
	require.NoError(t, m.AppendMessage(ctx, &models.Message{
		ID: "mid.2", ConversationID: "conv_1", Direction: models.DirectionOutbound, Text: "hello", SentAt: now.Add(time.Second),
	}))

	msgs, err := m.ListMessages(ctx, "conv_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, models.DirectionOutbound, msgs[1].Direction)
}

func TestMemory_Comments(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.SaveComment(ctx, &models.Comment{
		CommentID: "c1", Sentiment: "negative", ReceivedAt: now,
	}))
	require.NoError(t, m.SaveComment(ctx, &models.Comment{
		CommentID: "c2", Sentiment: "positive", ReceivedAt: now.Add(time.Minute),
	}))

	out, err := m.ListComments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c2", out[0].CommentID)

	out, err = m.ListComments(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
