// Package store is the system of record for conversations, messages
// and comments. The engine is written against the Store contract; the
// Postgres and in-memory implementations carry the same guarantees.
package store

import (
	"context"
	"errors"

	"github.com/marcs89/Instagram-Message-Router/pkg/models"
)

var (
	// ErrNotFound means no record matched.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict means a concurrent writer got there first;
	// callers re-read and retry their read-modify-write.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrUnavailable wraps transport-level storage failures.
	ErrUnavailable = errors.New("store: unavailable")
)

// Filter narrows conversation listings for the dashboard.
type Filter struct {
	Status     models.Status
	Category   string
	AssigneeID string
	Limit      int
}

// Store persists conversation state. UpdateConversation applies only
// when the stored version equals the version the caller read, then
// bumps it; this is what makes per-conversation transitions
// linearizable across concurrent writers.
type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// FindRoutable returns the conversation a new inbound message from
	// the pair should route to: the open conversation if one exists,
	// otherwise the most recently active (resolved) one, otherwise
	// ErrNotFound.
	FindRoutable(ctx context.Context, senderID, recipientID string) (*models.Conversation, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	ListConversations(ctx context.Context, f Filter) ([]models.Conversation, error)

	SaveComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, limit int) ([]models.Comment, error)
}
