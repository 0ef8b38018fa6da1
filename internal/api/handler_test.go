//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/middleware"
	"github.com/ashureev/persona-chat/internal/pacing"
	"github.com/ashureev/persona-chat/internal/realtime"
	"github.com/ashureev/persona-chat/internal/store"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubBackend struct {
	available bool
	err       error
}

func (b stubBackend) Available() bool            { return b.available }
func (b stubBackend) Ping(context.Context) error { return b.err }

type apiFixture struct {
	router http.Handler
	repo   store.Repository
	chat   *chat.Service
	hub    *realtime.Hub
}

func newFixture(t *testing.T, backend Backend, opts RouteOptions) *apiFixture {
	t.Helper()

	repo := store.NewMemory()
	require.NoError(t, repo.CreateConversation(context.Background(), &domain.Conversation{
		ID: "convo-1",
		Participants: []domain.Participant{
			{ID: "user-0", Name: "You", Online: true},
			{ID: "ai-1", Name: "AI", Online: true},
		},
		Messages: []domain.Message{{
			ID:        "greeting",
			SenderID:  "ai-1",
			Text:      "yo what's up?",
			Timestamp: epoch,
			Status:    domain.StatusRead,
		}},
	}))

	hub := realtime.NewHub(nil, 10, nil)
	t.Cleanup(hub.Close)

	svc := chat.NewService(chat.Deps{
		Repo:    repo,
		Surface: hub,
		Clock:   pacing.NewVirtualClock(epoch),
		Jitter:  pacing.Lower,
		Metrics: chat.NewMetrics(prometheus.NewRegistry()),
	}, chat.Config{SelfID: "user-0", Instruction: "be chill"})
	t.Cleanup(svc.Close)

	r := chi.NewRouter()
	NewHandler(repo, svc, hub, backend).RegisterRoutes(r, opts)
	return &apiFixture{router: r, repo: repo, chat: svc, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrConversationNotFound, http.StatusNotFound},
		{store.ErrMessageNotFound, http.StatusNotFound},
		{store.ErrConversationExists, http.StatusConflict},
		{chat.ErrEmptyReaction, http.StatusBadRequest},
		{domain.ErrEmptyMessage, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		serviceError(rec, tc.err, "test")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestListAndGetConversation(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{})

	rec := f.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ConversationView](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "convo-1", list[0].ID)

	rec = f.do(t, http.MethodGet, "/api/conversations/convo-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[ConversationView](t, rec)
	assert.Equal(t, "user-0", view.SelfID)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "yo what's up?", view.Messages[0].Text)
	assert.False(t, view.Busy)

	rec = f.do(t, http.MethodGet, "/api/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{})

	rec := f.do(t, http.MethodPost, "/api/conversations/convo-1/messages", map[string]string{"text": "  hey  "})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decodeBody[domain.Message](t, rec)
	assert.Equal(t, "hey", msg.Text)
	assert.Equal(t, "user-0", msg.SenderID)
	assert.Equal(t, domain.StatusSent, msg.Status)

	rec = f.do(t, http.MethodPost, "/api/conversations/convo-1/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/convo-1/messages", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/missing/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	conv, err := f.repo.GetConversation(context.Background(), "convo-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestSendMessageRateLimited(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{SendLimit: middleware.RateLimit(1, 1)})

	first := f.do(t, http.MethodPost, "/api/conversations/convo-1/messages", map[string]string{"text": "one"})
	second := f.do(t, http.MethodPost, "/api/conversations/convo-1/messages", map[string]string{"text": "two"})
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Other routes are not limited.
	rec := f.do(t, http.MethodGet, "/api/conversations/convo-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToggleReaction(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{})
	path := "/api/conversations/convo-1/messages/greeting/reactions"

	rec := f.do(t, http.MethodPost, path, map[string]string{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, rec.Code)
	msg := decodeBody[domain.Message](t, rec)
	assert.Equal(t, map[string]string{"user-0": "🔥"}, msg.Reactions)

	rec = f.do(t, http.MethodPost, path, map[string]string{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, rec.Code)
	msg = decodeBody[domain.Message](t, rec)
	assert.Empty(t, msg.Reactions)

	rec = f.do(t, http.MethodPost, path, map[string]string{"emoji": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/conversations/convo-1/messages/nope/reactions", map[string]string{"emoji": "🔥"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplyTarget(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{})
	path := "/api/conversations/convo-1/reply-target"

	rec := f.do(t, http.MethodPut, path, map[string]string{"message_id": "greeting"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/conversations/convo-1", nil)
	assert.Equal(t, "greeting", decodeBody[ConversationView](t, rec).ReplyTarget)

	rec = f.do(t, http.MethodPost, "/api/conversations/convo-1/messages", map[string]string{"text": "lol same"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decodeBody[domain.Message](t, rec)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "greeting", msg.ReplyTo.MessageID)
	assert.Equal(t, "AI", msg.ReplyTo.SenderName)

	_, pending := f.chat.ReplyTarget("convo-1")
	assert.False(t, pending)

	rec = f.do(t, http.MethodPut, path, map[string]string{"message_id": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, path, map[string]string{"message_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.chat.SetReplyTarget(context.Background(), "convo-1", "greeting"))
	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, pending = f.chat.ReplyTarget("convo-1")
	assert.False(t, pending)
}

func TestTyping(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{})

	rec := f.do(t, http.MethodPost, "/api/conversations/convo-1/typing", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, map[string]bool{"user-0": true}, f.hub.TypingState("convo-1"))

	rec = f.do(t, http.MethodGet, "/api/conversations/convo-1", nil)
	assert.True(t, decodeBody[ConversationView](t, rec).Typing["user-0"])

	rec = f.do(t, http.MethodPost, "/api/conversations/missing/typing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersona(t *testing.T) {
	f := newFixture(t, stubBackend{available: true}, RouteOptions{})

	rec := f.do(t, http.MethodGet, "/api/persona", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, "be chill", got["instruction"])
	assert.Equal(t, true, got["available"])

	rec = f.do(t, http.MethodPut, "/api/persona", map[string]string{"instruction": "  be dramatic "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "be dramatic", f.chat.PersonaInstruction())

	rec = f.do(t, http.MethodPut, "/api/persona", map[string]string{"instruction": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "be dramatic", f.chat.PersonaInstruction())
}

func TestResponseSchema(t *testing.T) {
	f := newFixture(t, nil, RouteOptions{})

	rec := f.do(t, http.MethodGet, "/api/persona/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/schema+json", rec.Header().Get("Content-Type"))

	schema := decodeBody[map[string]interface{}](t, rec)
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "responses")
	assert.Contains(t, props, "reaction")
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name       string
		backend    Backend
		wantStatus string
		wantModel  string
	}{
		{"no backend", nil, "ok", "disabled"},
		{"healthy backend", stubBackend{available: true}, "ok", "ok"},
		{"failing backend", stubBackend{available: true, err: errors.New("connection refused")}, "degraded", "connection refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.backend, RouteOptions{})
			rec := f.do(t, http.MethodGet, "/api/health", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			assert.Equal(t, tc.wantStatus, body["status"])
			assert.Equal(t, tc.wantModel, body["model"])
		})
	}
}
