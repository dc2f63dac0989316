package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/marcs89/Instagram-Message-Router/pkg/config"
	"github.com/marcs89/Instagram-Message-Router/pkg/intake"
	"github.com/marcs89/Instagram-Message-Router/pkg/metrics"
	"github.com/marcs89/Instagram-Message-Router/pkg/models"
	"github.com/marcs89/Instagram-Message-Router/pkg/signature"
	"github.com/marcs89/Instagram-Message-Router/pkg/store"
	"github.com/marcs89/Instagram-Message-Router/pkg/webhook"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type Handler struct {
	pipeline *intake.Pipeline
	config   *config.Config
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

func NewHandler(pipeline *intake.Pipeline, cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		pipeline: pipeline,
		config:   cfg,
		logger:   logger,
		metrics:  m,
	}
}

// VerifyWebhook answers Meta's one-time subscription challenge: echo
// hub.challenge only when the verify token matches.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.config.VerifyToken {
		h.logger.Info("Webhook verification succeeded")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	h.logger.WithField("mode", mode).Warn("Webhook verification failed")
	http.Error(w, "Verification failed", http.StatusForbidden)
}

// ReceiveWebhook handles one webhook delivery. Signature first, before
// any parsing; then every event in the batch independently. The
// platform gets 200 once each event is claimed or recognized as a
// duplicate, 401 on a bad signature, and 503 only when a transient
// storage failure struck before any claim succeeded, so its retry
// cannot double-process anything.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.WebhookRequestDuration.Observe(time.Since(start).Seconds())
	}()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if !signature.Verify(rawBody, r.Header.Get(signature.Header), h.config.AppSecret) {
		h.metrics.SignatureFailures.Inc()
		h.logger.Warn("Rejected webhook delivery with invalid signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	batch, err := webhook.Parse(rawBody)
	if errors.Is(err, webhook.ErrUnsupportedObject) {
		// Not ours to route; ack so the platform stops retrying.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	if err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestBudget())
	defer cancel()

	var processed, duplicates, failed int
	var claimErr error
	claimSucceeded := false

	for _, ev := range batch.Messages {
		outcome, err := h.pipeline.ProcessEvent(ctx, ev)
		if err != nil {
			claimErr = err
			continue
		}
		switch outcome {
		case intake.OutcomeDuplicate:
			// An earlier delivery holds the claim; this request did not
			// claim anything, so it still must not suppress a retry.
			duplicates++
		case intake.OutcomeFailed:
			claimSucceeded = true
			failed++
		default:
			claimSucceeded = true
			processed++
		}
	}

	var comments, commentDuplicates int
	for _, ev := range batch.Comments {
		outcome, err := h.pipeline.ProcessComment(ctx, ev)
		if err != nil {
			claimErr = err
			continue
		}
		switch outcome {
		case intake.OutcomeDuplicate:
			commentDuplicates++
		case intake.OutcomeFailed:
			claimSucceeded = true
			failed++
		default:
			claimSucceeded = true
			comments++
		}
	}

	for _, sk := range batch.Skipped {
		h.metrics.EventsProcessed.WithLabelValues("malformed").Inc()
		h.logger.WithFields(logrus.Fields{
			"entry_id": sk.EntryID,
			"reason":   sk.Reason,
		}).Warn("Skipped malformed event")
	}

	// A retry is only safe while this request has claimed nothing;
	// after the first fresh claim a retry would double-process its
	// siblings, so the failure is surfaced downstream instead.
	// Events recognized as duplicates do not count, their claims
	// belong to earlier deliveries.
	if claimErr != nil && !claimSucceeded {
		h.logger.WithError(claimErr).Error("Dedup storage unavailable before any claim succeeded")
		http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if claimErr != nil {
		h.logger.WithError(claimErr).Error("Claim failed mid-batch after a successful claim; not signalling retry")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "received",
		"processed_messages": processed,
		"processed_comments": comments,
		"duplicates":         duplicates + commentDuplicates,
		"failed":             failed,
		"skipped":            len(batch.Skipped),
	})
}

// ListConversations serves the dashboard's conversation query.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Status:     models.Status(q.Get("status")),
		Category:   q.Get("category"),
		AssigneeID: q.Get("assignee_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	convs, err := h.pipeline.ListConversations(r.Context(), f)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list conversations")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// GetConversation returns one conversation with its messages.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conv, msgs, err := h.pipeline.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("conversation_id", id).Error("Failed to load conversation")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

// UpdateStatus applies a handler action to the conversation state
// machine.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var request struct {
		Status     models.Status `json:"status"`
		AssigneeID string        `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.pipeline.UpdateStatus(r.Context(), id, request.Status, request.AssigneeID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	case errors.Is(err, intake.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.WithError(err).WithField("conversation_id", id).Error("Failed to update status")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

// Reply sends an outbound message and records it.
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var request struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Text == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.pipeline.Reply(r.Context(), id, request.Text)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.WithError(err).WithField("conversation_id", id).Error("Failed to send reply")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

// ListComments serves stored ad/post comments.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	comments, err := h.pipeline.ListComments(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list comments")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Healthy(r.Context()); err != nil {
		http.Error(w, "Health check failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
