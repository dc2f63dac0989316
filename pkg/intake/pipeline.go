// Package intake is the routing engine: it takes verified webhook
// events through dedup, classification, assignment and persistence,
// and exposes the conversation state to the dashboard.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/marcs89/Instagram-Message-Router/pkg/alert"
	"github.com/marcs89/Instagram-Message-Router/pkg/assign"
	"github.com/marcs89/Instagram-Message-Router/pkg/classify"
	"github.com/marcs89/Instagram-Message-Router/pkg/dedup"
	"github.com/marcs89/Instagram-Message-Router/pkg/metrics"
	"github.com/marcs89/Instagram-Message-Router/pkg/models"
	"github.com/marcs89/Instagram-Message-Router/pkg/outbound"
	"github.com/marcs89/Instagram-Message-Router/pkg/store"
)

// Outcome of processing one event.
type Outcome string

const (
	// OutcomeProcessed means the event was fresh and fully routed.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate means the event was a recognized retry.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed means the event was claimed but a later stage
	// failed. Terminal: the delivery must not be retried through the
	// webhook channel; operators are alerted instead.
	OutcomeFailed Outcome = "failed"
)

// Duplicate claims for comments share the claimer with message events;
// the prefix keeps the two id spaces apart.
const commentClaimPrefix = "comment:"

// Store writes are retried this many times on a version conflict.
const conflictRetries = 3

type Pipeline struct {
	claimer     dedup.Claimer
	classifier  *classify.Classifier
	assigner    *assign.Assigner
	store       store.Store
	sender      outbound.Sender
	alerts      alert.Notifier
	metrics     *metrics.Metrics
	logger      *logrus.Logger
	reopenGrace time.Duration
	locks       senderLocks
	now         func() time.Time
}

func NewPipeline(
	claimer dedup.Claimer,
	classifier *classify.Classifier,
	assigner *assign.Assigner,
	st store.Store,
	sender outbound.Sender,
	alerts alert.Notifier,
	m *metrics.Metrics,
	logger *logrus.Logger,
	reopenGrace time.Duration,
) *Pipeline {
	return &Pipeline{
		claimer:     claimer,
		classifier:  classifier,
		assigner:    assigner,
		store:       st,
		sender:      sender,
		alerts:      alerts,
		metrics:     m,
		logger:      logger,
		reopenGrace: reopenGrace,
		now:         time.Now,
	}
}

// ProcessEvent runs one inbound message event through the pipeline.
// A non-nil error is only returned while the dedup claim has not
// succeeded; it is safe for the platform to retry such a delivery.
// After a successful claim every failure is absorbed into
// OutcomeFailed, alerted and logged.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev models.InboundEvent) (Outcome, error) {
	result, err := p.claimer.Claim(ctx, ev.EventID)
	if err != nil {
		return "", fmt.Errorf("claim failed for event %s: %w", ev.EventID, err)
	}
	if result == dedup.Duplicate {
		p.metrics.EventsProcessed.WithLabelValues(string(OutcomeDuplicate)).Inc()
		p.logger.WithField("event_id", ev.EventID).Debug("Duplicate delivery, acknowledging without reprocessing")
		return OutcomeDuplicate, nil
	}

	if err := p.route(ctx, ev); err != nil {
		p.metrics.EventsProcessed.WithLabelValues(string(OutcomeFailed)).Inc()
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":  ev.EventID,
			"sender_id": ev.SenderID,
		}).Error("Event claimed but routing failed")
		p.notify(ctx, alert.Alert{
			Kind:       alert.KindProcessingFailed,
			EventID:    ev.EventID,
			Detail:     err.Error(),
			OccurredAt: p.now().UTC(),
		})
		return OutcomeFailed, nil
	}

	p.metrics.EventsProcessed.WithLabelValues(string(OutcomeProcessed)).Inc()
	return OutcomeProcessed, nil
}

func (p *Pipeline) route(ctx context.Context, ev models.InboundEvent) error {
	mu := p.locks.lock(ev.SenderID + "|" + ev.RecipientID)
	defer mu.Unlock()

	start := time.Now()
	var c classify.Classification
	if ev.IsStoryReply {
		c = p.classifier.ClassifyStoryReply(ev.Text)
	} else {
		c = p.classifier.Classify(ev.Text)
	}
	p.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())

	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		conv, created, err := p.findOrCreate(ctx, ev, c)
		if err != nil {
			return err
		}

		// Assignment must land before the first write so a fresh
		// conversation is persisted with its assignee and status.
		if err := p.applyAssignment(ctx, conv, ev, c); err != nil {
			return err
		}

		if created {
			if err := p.createConversation(ctx, conv); err != nil {
				return err
			}
		} else {
			if err := p.updateConversation(ctx, conv); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					lastErr = err
					continue
				}
				return err
			}
		}

		msg := &models.Message{
			ID:             ev.EventID,
			ConversationID: conv.ID,
			Direction:      models.DirectionInbound,
			Text:           ev.Text,
			SentAt:         ev.Timestamp,
		}
		if err := p.store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}

		p.logger.WithFields(logrus.Fields{
			"event_id":        ev.EventID,
			"conversation_id": conv.ID,
			"category":        conv.Category,
			"assignee_id":     conv.AssigneeID,
			"status":          conv.Status,
		}).Info("Routed inbound message")
		return nil
	}

	return fmt.Errorf("gave up after %d version conflicts: %w", conflictRetries, lastErr)
}

// findOrCreate resolves the conversation this event routes to: the
// sender's open conversation, their resolved one reopened when the
// message arrives within the grace window, or a fresh conversation.
// A fresh conversation is not persisted here; route writes it after
// assignment has run.
func (p *Pipeline) findOrCreate(ctx context.Context, ev models.InboundEvent, c classify.Classification) (*models.Conversation, bool, error) {
	conv, err := p.store.FindRoutable(ctx, ev.SenderID, ev.RecipientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	if conv != nil && conv.Status.Open() {
		conv.LastMessageAt = ev.Timestamp
		return conv, false, nil
	}

	if conv != nil && conv.Status == models.StatusResolved &&
		ev.Timestamp.Sub(conv.LastMessageAt) <= p.reopenGrace {
		conv.Status = models.StatusNew
		conv.AssignmentFailed = false
		conv.LastMessageAt = ev.Timestamp
		p.logger.WithField("conversation_id", conv.ID).Info("Reopened resolved conversation")
		return conv, false, nil
	}

	fresh := &models.Conversation{
		ID:            uuid.New().String(),
		SenderID:      ev.SenderID,
		RecipientID:   ev.RecipientID,
		Category:      c.Category,
		Priority:      c.Priority,
		Status:        models.StatusNew,
		CreatedAt:     ev.Timestamp,
		LastMessageAt: ev.Timestamp,
	}
	return fresh, true, nil
}

func (p *Pipeline) createConversation(ctx context.Context, conv *models.Conversation) error {
	start := time.Now()
	err := p.store.CreateConversation(ctx, conv)
	p.metrics.StoreOperationDuration.WithLabelValues("create_conversation").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// applyAssignment fills in category and assignee. An existing assignee
// is always kept; a second message in the same thread must not
// reassign.
func (p *Pipeline) applyAssignment(ctx context.Context, conv *models.Conversation, ev models.InboundEvent, c classify.Classification) error {
	if conv.Category == "" {
		conv.Category = c.Category
		conv.Priority = c.Priority
	}

	if conv.AssigneeID == "" {
		assignee, err := p.assigner.Assign(conv.Category)
		if errors.Is(err, assign.ErrNoHandlerAvailable) {
			p.metrics.AssignmentFailures.Inc()
			conv.AssignmentFailed = true
			p.logger.WithFields(logrus.Fields{
				"conversation_id": conv.ID,
				"category":        conv.Category,
			}).Warn("No handler available, conversation stays unassigned")
			p.notify(ctx, alert.Alert{
				Kind:           alert.KindNoHandlerAvailable,
				ConversationID: conv.ID,
				EventID:        ev.EventID,
				Detail:         fmt.Sprintf("no handler for category %q", conv.Category),
				OccurredAt:     p.now().UTC(),
			})
			return nil
		}
		if err != nil {
			return fmt.Errorf("assignment failed: %w", err)
		}
		conv.AssigneeID = assignee
	}

	conv.AssignmentFailed = false
	if conv.Status == models.StatusNew {
		conv.Status = models.StatusAssigned
	}
	return nil
}

func (p *Pipeline) updateConversation(ctx context.Context, conv *models.Conversation) error {
	start := time.Now()
	err := p.store.UpdateConversation(ctx, conv)
	p.metrics.StoreOperationDuration.WithLabelValues("update_conversation").Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, store.ErrVersionConflict) {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return err
}

// ProcessComment runs one comment event: dedup, sentiment, store,
// operator alert on negative tone. The same claim/retry contract as
// ProcessEvent applies.
func (p *Pipeline) ProcessComment(ctx context.Context, ev models.CommentEvent) (Outcome, error) {
	result, err := p.claimer.Claim(ctx, commentClaimPrefix+ev.CommentID)
	if err != nil {
		return "", fmt.Errorf("claim failed for comment %s: %w", ev.CommentID, err)
	}
	if result == dedup.Duplicate {
		p.metrics.CommentsProcessed.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	sentiment := classify.AnalyzeSentiment(ev.Text)
	priority := models.PriorityNormal
	if sentiment.Label == classify.SentimentNegative {
		priority = models.PriorityHigh
	}

	comment := &models.Comment{
		CommentID:         ev.CommentID,
		PostID:            ev.PostID,
		ParentID:          ev.ParentID,
		CommenterID:       ev.CommenterID,
		CommenterName:     ev.CommenterName,
		Text:              ev.Text,
		Sentiment:         sentiment.Label,
		SentimentScore:    sentiment.Score,
		IsQuestion:        sentiment.IsQuestion,
		ContainsComplaint: sentiment.ContainsComplaint,
		Priority:          priority,
		Status:            models.StatusNew,
		CreatedAt:         ev.CreatedAt,
		ReceivedAt:        p.now().UTC(),
	}

	if err := p.store.SaveComment(ctx, comment); err != nil {
		p.metrics.CommentsProcessed.WithLabelValues(string(OutcomeFailed)).Inc()
		p.logger.WithError(err).WithField("comment_id", ev.CommentID).Error("Comment claimed but storing failed")
		p.notify(ctx, alert.Alert{
			Kind:       alert.KindProcessingFailed,
			CommentID:  ev.CommentID,
			Detail:     err.Error(),
			OccurredAt: p.now().UTC(),
		})
		return OutcomeFailed, nil
	}

	if sentiment.Label == classify.SentimentNegative {
		p.notify(ctx, alert.Alert{
			Kind:       alert.KindNegativeComment,
			CommentID:  ev.CommentID,
			Detail:     truncateDetail(ev.Text),
			OccurredAt: p.now().UTC(),
		})
	}

	p.metrics.CommentsProcessed.WithLabelValues(string(OutcomeProcessed)).Inc()
	return OutcomeProcessed, nil
}

func (p *Pipeline) notify(ctx context.Context, a alert.Alert) {
	p.metrics.AlertsSent.WithLabelValues(a.Kind).Inc()
	if err := p.alerts.Notify(ctx, a); err != nil {
		p.logger.WithError(err).WithField("kind", a.Kind).Error("Failed to deliver operator alert")
	}
}

func truncateDetail(s string) string {
	const max = 120
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
