package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcs89/Instagram-Message-Router/pkg/alert"
	"github.com/marcs89/Instagram-Message-Router/pkg/assign"
	"github.com/marcs89/Instagram-Message-Router/pkg/classify"
	"github.com/marcs89/Instagram-Message-Router/pkg/config"
	"github.com/marcs89/Instagram-Message-Router/pkg/dedup"
	"github.com/marcs89/Instagram-Message-Router/pkg/handlers"
	"github.com/marcs89/Instagram-Message-Router/pkg/intake"
	"github.com/marcs89/Instagram-Message-Router/pkg/metrics"
	"github.com/marcs89/Instagram-Message-Router/pkg/models"
	"github.com/marcs89/Instagram-Message-Router/pkg/server"
	"github.com/marcs89/Instagram-Message-Router/pkg/signature"
	"github.com/marcs89/Instagram-Message-Router/pkg/store"
)

const (
	testSecret      = "test-app-secret"
	testVerifyToken = "verify-me"
)

// promauto registers against the default registry, so the whole package
// shares one metrics instance.
var testMetrics = metrics.NewMetrics()

type nullSender struct{}

func (nullSender) Send(context.Context, string, string) error { return nil }

// faultyClaimer fails the claim for selected event ids and delegates
// the rest.
type faultyClaimer struct {
	inner  dedup.Claimer
	failOn map[string]bool
}

func (c *faultyClaimer) Claim(ctx context.Context, eventID string) (dedup.Result, error) {
	if c.failOn[eventID] {
		return "", dedup.ErrStorageUnavailable
	}
	return c.inner.Claim(ctx, eventID)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type testApp struct {
	router http.Handler
	store  store.Store
}

func newTestApp() *testApp {
	return newTestAppWithClaimer(dedup.NewMemoryClaimer(24 * time.Hour))
}

func newTestAppWithClaimer(claimer dedup.Claimer) *testApp {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Port:            "8080",
		AppSecret:       testSecret,
		VerifyToken:     testVerifyToken,
		RequestBudgetMS: 5000,
		MaxTextLen:      2048,
	}

	rc := config.DefaultRouting()
	rc.Handlers = []config.HandlerEntry{
		{ID: "anna", Categories: []string{"cooperation"}, Available: true},
		{ID: "ben", Categories: []string{"feedback", "general_support"}, Available: true},
	}

	st := store.NewMemory()
	pipeline := intake.NewPipeline(
		claimer,
		classify.New(rc, cfg.MaxTextLen),
		assign.NewAssigner(rc),
		st,
		nullSender{},
		&recordingNotifier{},
		testMetrics,
		logger,
		72*time.Hour,
	)

	handler := handlers.NewHandler(pipeline, cfg, logger, testMetrics)
	srv := server.NewHTTPServer(cfg, handler, logger)
	return &testApp{router: srv.Handler, store: st}
}

func (a *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) postWebhook(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign([]byte(body), testSecret))
	return a.do(t, req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func messagingPayload(mid, senderID, text string) string {
	return `{
		"object": "instagram",
		"entry": [{
			"id": "acct_1",
			"messaging": [{
				"sender": {"id": "` + senderID + `"},
				"recipient": {"id": "acct_1"},
				"timestamp": 1700000000123,
				"message": {"mid": "` + mid + `", "text": ` + mustJSON(text) + `}
			}]
		}]
	}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestVerifyWebhook(t *testing.T) {
	app := newTestApp()

	rec := app.do(t, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = app.do(t, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=unsubscribe&hub.verify_token="+testVerifyToken, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveWebhook_RejectsBadSignature(t *testing.T) {
	app := newTestApp()
	body := messagingPayload("mid.1", "user_1", "hi")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(signature.Header, signature.Sign([]byte(body), "wrong-secret"))
	rec := app.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec = app.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	convs, err := app.store.ListConversations(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, convs, "unauthenticated payloads must not reach the pipeline")
}

func TestReceiveWebhook_RoutesAndAcksDuplicates(t *testing.T) {
	app := newTestApp()
	body := messagingPayload("mid.1", "user_1", "Hätte Interesse an einer Kooperation")

	rec := app.postWebhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "received", resp["status"])
	assert.Equal(t, float64(1), resp["processed_messages"])
	assert.Equal(t, float64(0), resp["duplicates"])

	// Platform retry of the identical delivery.
	rec = app.postWebhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody(t, rec)
	assert.Equal(t, float64(0), resp["processed_messages"])
	assert.Equal(t, float64(1), resp["duplicates"])

	convs, err := app.store.ListConversations(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "cooperation", convs[0].Category)
	assert.Equal(t, "anna", convs[0].AssigneeID)
}

func twoEventPayload(midA, midB string) string {
	return `{
		"object": "instagram",
		"entry": [{
			"id": "acct_1",
			"messaging": [
				{
					"sender": {"id": "user_1"},
					"recipient": {"id": "acct_1"},
					"timestamp": 1700000000123,
					"message": {"mid": "` + midA + `", "text": "hi"}
				},
				{
					"sender": {"id": "user_2"},
					"recipient": {"id": "acct_1"},
					"timestamp": 1700000000124,
					"message": {"mid": "` + midB + `", "text": "hallo"}
				}
			]
		}]
	}`
}

func TestReceiveWebhook_ClaimFailureNextToDuplicateSignalsRetry(t *testing.T) {
	claimer := &faultyClaimer{
		inner:  dedup.NewMemoryClaimer(24 * time.Hour),
		failOn: map[string]bool{"mid.fail": true},
	}
	app := newTestAppWithClaimer(claimer)

	rec := app.postWebhook(t, messagingPayload("mid.dup", "user_1", "hi"))
	require.Equal(t, http.StatusOK, rec.Code)

	// Retry batches the already-claimed event with one whose claim hits
	// storage failure. This request claimed nothing, so a retry is safe
	// and is the only way the second event ever gets processed.
	rec = app.postWebhook(t, twoEventPayload("mid.dup", "mid.fail"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// When a fresh claim did land, the same failure must not trigger a
	// retry signal.
	rec = app.postWebhook(t, twoEventPayload("mid.new", "mid.fail"))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(1), resp["processed_messages"])
}

func TestReceiveWebhook_UnsupportedObjectIsAcked(t *testing.T) {
	app := newTestApp()
	body := `{"object": "whatsapp_business_account", "entry": []}`

	rec := app.postWebhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decodeBody(t, rec)["status"])
}

func TestReceiveWebhook_MalformedBody(t *testing.T) {
	app := newTestApp()
	rec := app.postWebhook(t, `{"object": "instagram", "entry": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveWebhook_SkippedEventsReported(t *testing.T) {
	app := newTestApp()
	body := `{
		"object": "instagram",
		"entry": [{
			"id": "acct_1",
			"messaging": [
				{"sender": {"id": "user_1"}, "message": {"text": "no mid"}},
				{"sender": {"id": "user_2"}, "message": {"mid": "mid.ok", "text": "danke, super!"}}
			]
		}]
	}`

	rec := app.postWebhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(1), resp["processed_messages"])
	assert.Equal(t, float64(1), resp["skipped"])
}

func TestReceiveWebhook_CommentChange(t *testing.T) {
	app := newTestApp()
	body := `{
		"object": "instagram",
		"entry": [{
			"id": "media_1",
			"changes": [{
				"field": "comments",
				"value": {
					"item": "comment",
					"verb": "add",
					"comment_id": "c_1",
					"message": "Totale Abzocke!",
					"from": {"id": "user_9"}
				}
			}]
		}]
	}`

	rec := app.postWebhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["processed_comments"])

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/comments", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var commentsResp struct {
		Comments []models.Comment `json:"comments"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&commentsResp))
	require.Len(t, commentsResp.Comments, 1)
	assert.Equal(t, "negative", commentsResp.Comments[0].Sentiment)
	assert.Equal(t, models.PriorityHigh, commentsResp.Comments[0].Priority)
}

func TestDashboard_ConversationLifecycle(t *testing.T) {
	app := newTestApp()

	rec := app.postWebhook(t, messagingPayload("mid.1", "user_1", "Kooperation?"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/conversations?status=assigned", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listResp))
	require.Len(t, listResp.Conversations, 1)
	convID := listResp.Conversations[0].ID

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/conversations/"+convID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Skipping assigned -> in_progress is rejected.
	body, _ := json.Marshal(map[string]string{"status": "resolved"})
	rec = app.do(t, httptest.NewRequest(http.MethodPost, "/conversations/"+convID+"/status", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	body, _ = json.Marshal(map[string]string{"text": "Gerne, schreib uns!"})
	rec = app.do(t, httptest.NewRequest(http.MethodPost, "/conversations/"+convID+"/reply", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ = json.Marshal(map[string]string{"status": "resolved"})
	rec = app.do(t, httptest.NewRequest(http.MethodPost, "/conversations/"+convID+"/status", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	conv, err := app.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, conv.Status)
}

func TestDashboard_NotFoundAndValidation(t *testing.T) {
	app := newTestApp()

	rec := app.do(t, httptest.NewRequest(http.MethodGet, "/conversations/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/conversations?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/conversations?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ := json.Marshal(map[string]string{"text": ""})
	rec = app.do(t, httptest.NewRequest(http.MethodPost, "/conversations/nope/reply", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	app := newTestApp()
	rec := app.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}
