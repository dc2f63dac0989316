package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/marcs89/Instagram-Message-Router/pkg/models"
	"github.com/marcs89/Instagram-Message-Router/pkg/store"
)

// ErrInvalidTransition means the requested status change is not an
// edge of the conversation state machine.
var ErrInvalidTransition = errors.New("intake: invalid status transition")

// Edges of the state machine reachable through the dashboard.
// new -> assigned additionally requires an assignee (manual assignment
// of a flagged conversation); resolved -> new is reserved for the
// inbound reopen path.
var dashboardTransitions = map[models.Status][]models.Status{
	models.StatusNew:        {models.StatusAssigned},
	models.StatusAssigned:   {models.StatusInProgress},
	models.StatusInProgress: {models.StatusResolved},
}

func transitionAllowed(from, to models.Status) bool {
	for _, t := range dashboardTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ListConversations is the dashboard's conversation query.
func (p *Pipeline) ListConversations(ctx context.Context, f store.Filter) ([]models.Conversation, error) {
	return p.store.ListConversations(ctx, f)
}

// GetConversation returns one conversation with its message history.
func (p *Pipeline) GetConversation(ctx context.Context, id string) (*models.Conversation, []models.Message, error) {
	conv, err := p.store.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := p.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// ListComments is the dashboard's comment query.
func (p *Pipeline) ListComments(ctx context.Context, limit int) ([]models.Comment, error) {
	return p.store.ListComments(ctx, limit)
}

// UpdateStatus applies a handler's status change. assigneeID is
// required for new -> assigned (manual assignment) and ignored
// otherwise. Serialized against inbound processing for the same
// conversation through the version check.
func (p *Pipeline) UpdateStatus(ctx context.Context, conversationID string, to models.Status, assigneeID string) (*models.Conversation, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		conv, err := p.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}

		if !transitionAllowed(conv.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conv.Status, to)
		}
		if to == models.StatusAssigned {
			if assigneeID == "" {
				return nil, fmt.Errorf("%w: new -> assigned requires an assignee", ErrInvalidTransition)
			}
			conv.AssigneeID = assigneeID
			conv.AssignmentFailed = false
		}
		conv.Status = to

		if err := p.updateConversation(ctx, conv); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		p.logger.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"status":          conv.Status,
			"assignee_id":     conv.AssigneeID,
		}).Info("Updated conversation status")
		return conv, nil
	}
	return nil, fmt.Errorf("gave up after %d version conflicts: %w", conflictRetries, lastErr)
}

// Reply sends a handler's outbound message through the sending
// collaborator and records it. A send failure is non-fatal: the message
// is still recorded and the conversation still moves assigned ->
// in_progress; retrying the send is an external concern.
func (p *Pipeline) Reply(ctx context.Context, conversationID, text string) (*models.Message, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := p.sender.Send(ctx, conv.SenderID, text); err != nil {
		p.logger.WithError(err).WithField("conversation_id", conversationID).Error("Outbound send failed, recording message anyway")
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		Text:           text,
		SentAt:         p.now().UTC(),
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}

	// First reply moves the conversation to in_progress.
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if conv.Status != models.StatusAssigned {
			break
		}
		conv.Status = models.StatusInProgress
		conv.LastMessageAt = msg.SentAt
		err := p.updateConversation(ctx, conv)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		conv, err = p.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// Healthy reports whether the store answers queries; used by the
// health endpoint.
func (p *Pipeline) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := p.store.ListConversations(ctx, store.Filter{Limit: 1})
	return err
}
