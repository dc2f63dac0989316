package store

import (
	"context"
	"sort"
	"sync"

	"github.com/marcs89/Instagram-Message-Router/pkg/models"
)

// Memory is an in-process Store with the same version-check semantics
// as the Postgres implementation. It backs tests and single-node dev
// setups.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	comments      []models.Comment
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (m *Memory) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (m *Memory) FindRoutable(_ context.Context, senderID, recipientID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.Conversation
	for _, conv := range m.conversations {
		if conv.SenderID != senderID || conv.RecipientID != recipientID {
			continue
		}
		if conv.Status.Open() {
			cp := *conv
			return &cp, nil
		}
		if latest == nil || conv.LastMessageAt.After(latest.LastMessageAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv.Version = 1
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *Memory) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != conv.Version {
		return ErrVersionConflict
	}
	conv.Version++
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) ListConversations(_ context.Context, f Filter) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Conversation
	for _, conv := range m.conversations {
		if f.Status != "" && conv.Status != f.Status {
			continue
		}
		if f.Category != "" && conv.Category != f.Category {
			continue
		}
		if f.AssigneeID != "" && conv.AssigneeID != f.AssigneeID {
			continue
		}
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) SaveComment(_ context.Context, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.comments = append(m.comments, *comment)
	return nil
}

func (m *Memory) ListComments(_ context.Context, limit int) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Comment, len(m.comments))
	copy(out, m.comments)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
