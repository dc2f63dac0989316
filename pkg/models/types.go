package models

import "time"

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusNew        Status = "new"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// Open reports whether the conversation still needs handler attention.
// At most one open conversation may exist per (sender, recipient) pair.
func (s Status) Open() bool {
	return s == StatusNew || s == StatusAssigned || s == StatusInProgress
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAssigned, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Direction marks a message as inbound (from the platform user) or
// outbound (a handler reply).
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Priority labels produced by classification.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// InboundEvent is one direct-message event extracted from a webhook
// delivery. Immutable once parsed; only its dedup record outlives the
// request that carried it.
type InboundEvent struct {
	EventID         string    `json:"event_id"`
	SenderID        string    `json:"sender_id"`
	RecipientID     string    `json:"recipient_id"`
	Timestamp       time.Time `json:"timestamp"`
	Text            string    `json:"text"`
	HasAttachments  bool      `json:"has_attachments"`
	AttachmentTypes []string  `json:"attachment_types,omitempty"`
	IsStoryReply    bool      `json:"is_story_reply"`
}

// Conversation is the unit of routing: one thread between a sender and
// a recipient account. Version guards optimistic read-modify-write
// through the store.
type Conversation struct {
	ID               string    `json:"id"`
	SenderID         string    `json:"sender_id"`
	RecipientID      string    `json:"recipient_id"`
	Category         string    `json:"category,omitempty"`
	Priority         string    `json:"priority,omitempty"`
	AssigneeID       string    `json:"assignee_id,omitempty"`
	Status           Status    `json:"status"`
	AssignmentFailed bool      `json:"assignment_failed,omitempty"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	LastMessageAt    time.Time `json:"last_message_at"`
}

// Message belongs to exactly one conversation and is append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
}

// CommentEvent is one ad/post comment extracted from a webhook delivery.
type CommentEvent struct {
	CommentID     string    `json:"comment_id"`
	PostID        string    `json:"post_id"`
	ParentID      string    `json:"parent_id,omitempty"`
	CommenterID   string    `json:"commenter_id"`
	CommenterName string    `json:"commenter_name,omitempty"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Comment is a stored ad/post comment enriched with sentiment.
type Comment struct {
	CommentID         string    `json:"comment_id"`
	PostID            string    `json:"post_id"`
	ParentID          string    `json:"parent_id,omitempty"`
	CommenterID       string    `json:"commenter_id"`
	CommenterName     string    `json:"commenter_name,omitempty"`
	Text              string    `json:"text"`
	Sentiment         string    `json:"sentiment"`
	SentimentScore    float64   `json:"sentiment_score"`
	IsQuestion        bool      `json:"is_question"`
	ContainsComplaint bool      `json:"contains_complaint"`
	Priority          string    `json:"priority"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	ReceivedAt        time.Time `json:"received_at"`
}
