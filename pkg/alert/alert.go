// Package alert carries operator-facing signals out of the pipeline:
// conversations nobody could take, deliveries that failed after their
// dedup claim, negative comments.
package alert

import (
	"context"
	"time"
)

// Alert kinds.
const (
	KindNoHandlerAvailable = "no_handler_available"
	KindProcessingFailed   = "processing_failed"
	KindNegativeComment    = "negative_comment"
)

// Alert is one operator notification.
type Alert struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CommentID      string    `json:"comment_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	Detail         string    `json:"detail"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier delivers alerts. Delivery failures must not fail the
// pipeline; implementations log and move on.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}
