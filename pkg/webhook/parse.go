// Package webhook parses Meta webhook deliveries into typed events.
// One delivery may batch several entries, each carrying message and/or
// comment events; a malformed event is reported individually and never
// aborts its siblings.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcs89/Instagram-Message-Router/pkg/models"
)

var (
	// ErrMalformedPayload means the request body is not a webhook
	// payload at all.
	ErrMalformedPayload = errors.New("webhook: malformed payload")
	// ErrUnsupportedObject marks payloads for object types the engine
	// does not route; they are acknowledged and ignored.
	ErrUnsupportedObject = errors.New("webhook: unsupported object type")
)

// SkippedEvent records one event that could not be parsed.
type SkippedEvent struct {
	EntryID string
	Reason  string
}

// Batch is the parsed content of one webhook delivery.
type Batch struct {
	Messages []models.InboundEvent
	Comments []models.CommentEvent
	Skipped  []SkippedEvent
}

type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
	// Some payload variants carry DM events under "messages".
	Messages []messagingEvent `json:"messages"`
	Changes  []change         `json:"changes"`
}

type messagingEvent struct {
	Sender    idRef `json:"sender"`
	Recipient idRef `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		Attachments []struct {
			Type string `json:"type"`
		} `json:"attachments"`
		ReplyTo map[string]json.RawMessage `json:"reply_to"`
	} `json:"message"`
}

type idRef struct {
	ID string `json:"id"`
}

type change struct {
	Field string `json:"field"`
	Value struct {
		Item        string   `json:"item"`
		Verb        string   `json:"verb"`
		CommentID   string   `json:"comment_id"`
		ID          string   `json:"id"`
		PostID      string   `json:"post_id"`
		MediaID     string   `json:"media_id"`
		ParentID    string   `json:"parent_id"`
		Message     string   `json:"message"`
		Text        string   `json:"text"`
		CreatedTime flexTime `json:"created_time"`
		From        struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"from"`
	} `json:"value"`
}

// flexTime accepts epoch seconds or an RFC 3339 string; both occur in
// the wild depending on the webhook field.
type flexTime struct {
	t time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		f.t = time.Unix(n, 0).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil // leave zero, caller substitutes receipt time
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		f.t = time.Unix(n, 0).UTC()
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		f.t = t.UTC()
	}
	return nil
}

// Parse decodes a webhook body. The returned batch may mix events that
// parsed and events that were skipped; only an unparseable body or an
// unsupported object type is an error for the whole delivery.
func Parse(raw []byte) (*Batch, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Object != "instagram" && p.Object != "page" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedObject, p.Object)
	}

	batch := &Batch{}
	now := time.Now().UTC()

	for _, e := range p.Entry {
		events := e.Messaging
		if len(events) == 0 {
			events = e.Messages
		}
		for _, ev := range events {
			msg, err := toInboundEvent(e, ev)
			if err != nil {
				batch.Skipped = append(batch.Skipped, SkippedEvent{EntryID: e.ID, Reason: err.Error()})
				continue
			}
			batch.Messages = append(batch.Messages, *msg)
		}

		for _, ch := range e.Changes {
			if ch.Field != "comments" && ch.Field != "feed" {
				continue
			}
			if ch.Value.Item != "comment" {
				continue
			}
			if ch.Value.Verb != "add" && ch.Value.Verb != "created" {
				continue
			}
			comment, err := toCommentEvent(e, ch, now)
			if err != nil {
				batch.Skipped = append(batch.Skipped, SkippedEvent{EntryID: e.ID, Reason: err.Error()})
				continue
			}
			batch.Comments = append(batch.Comments, *comment)
		}
	}

	return batch, nil
}

func toInboundEvent(e entry, ev messagingEvent) (*models.InboundEvent, error) {
	if ev.Message.MID == "" {
		return nil, errors.New("message event without mid")
	}
	if ev.Sender.ID == "" {
		return nil, errors.New("message event without sender id")
	}

	recipient := ev.Recipient.ID
	if recipient == "" {
		recipient = e.ID
	}

	out := &models.InboundEvent{
		EventID:     ev.Message.MID,
		SenderID:    ev.Sender.ID,
		RecipientID: recipient,
		Timestamp:   time.UnixMilli(ev.Timestamp).UTC(),
		Text:        ev.Message.Text,
	}
	if ev.Timestamp == 0 {
		out.Timestamp = time.Now().UTC()
	}
	for _, att := range ev.Message.Attachments {
		out.HasAttachments = true
		t := att.Type
		if t == "" {
			t = "unknown"
		}
		out.AttachmentTypes = append(out.AttachmentTypes, t)
	}
	if _, ok := ev.Message.ReplyTo["story"]; ok {
		out.IsStoryReply = true
	}
	return out, nil
}

func toCommentEvent(e entry, ch change, now time.Time) (*models.CommentEvent, error) {
	id := ch.Value.CommentID
	if id == "" {
		id = ch.Value.ID
	}
	if id == "" {
		return nil, errors.New("comment event without id")
	}

	postID := ch.Value.PostID
	if postID == "" {
		postID = ch.Value.MediaID
	}
	if postID == "" {
		postID = e.ID
	}

	text := ch.Value.Message
	if text == "" {
		text = ch.Value.Text
	}

	created := ch.Value.CreatedTime.t
	if created.IsZero() {
		created = now
	}

	commenterID := ch.Value.From.ID
	if commenterID == "" {
		commenterID = "unknown"
	}
	name := ch.Value.From.Name
	if name == "" {
		name = ch.Value.From.Username
	}

	return &models.CommentEvent{
		CommentID:     id,
		PostID:        postID,
		ParentID:      ch.Value.ParentID,
		CommenterID:   commenterID,
		CommenterName: name,
		Text:          text,
		CreatedAt:     created,
	}, nil
}
