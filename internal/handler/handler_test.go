package handler

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michel-DC/Teamify-sub004/internal/auth"
	"github.com/michel-DC/Teamify-sub004/internal/middleware"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	"github.com/michel-DC/Teamify-sub004/internal/store/memory"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

type apiFixture struct {
	store         *memory.Store
	verifier      *auth.JWTVerifier
	router        chi.Router
	notifications *NotificationHandler
	now           time.Time
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.NewNop()
	st := memory.New()
	verifier := auth.NewJWTVerifier("secret", "")
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	unread := service.NewUnreadService(st, nil, time.Minute, log)
	convs := service.NewConversationService(st, st, nil, log)
	msgs := service.NewMessageService(st, nil, unread, 1000, log)
	notes := service.NewNotificationService(st, unread, log)
	dispatcher := service.NewDispatcher(st, st, unread, nil, []model.Milestone{{Name: "24h-before", Before: 24 * time.Hour}}, log)
	dispatcher.SetClock(func() time.Time { return now })

	ch := NewConversationHandler(convs, log)
	mh := NewMessageHandler(msgs, log)
	nh := NewNotificationHandler(notes, unread, dispatcher, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", ch.List)
			r.Post("/", ch.CreateGroup)
			r.Get("/private", ch.FindPrivate)
			r.Post("/private", ch.CreatePrivate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ch.Get)
				r.Get("/messages", mh.List)
				r.Post("/messages", mh.Send)
				r.Post("/read", mh.MarkRead)
			})
		})
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", nh.List)
			r.Get("/unread-count", nh.UnreadCount)
			r.Post("/read", nh.MarkRead)
			r.Post("/process", nh.Process)
		})
	})
	return &apiFixture{store: st, verifier: verifier, router: r, notifications: nh, now: now}
}

func (f *apiFixture) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		token, err := f.verifier.Sign(user, auth.Profile{}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPrivateConversationFlow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "alice", http.MethodPost, "/api/v1/conversations/private", model.CreatePrivateRequest{UserID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.CreateConversationResponse](t, rec)
	assert.True(t, created.Created)

	rec = f.do(t, "bob", http.MethodPost, "/api/v1/conversations/private", model.CreatePrivateRequest{UserID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[model.CreateConversationResponse](t, rec)
	assert.False(t, again.Created)
	assert.Equal(t, created.Conversation.ID, again.Conversation.ID)

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/conversations/private?with=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/conversations/private?with=carol", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/conversations/private", model.CreatePrivateRequest{UserID: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "alice", http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[model.ListConversationsResponse](t, rec).Total)
}

func TestGroupConversationRequiresOrgAccess(t *testing.T) {
	f := newAPIFixture(t)
	f.store.AddOrgMember("org1", "alice")
	f.store.AddOrgMember("org1", "bob")

	rec := f.do(t, "alice", http.MethodPost, "/api/v1/conversations", model.CreateGroupRequest{
		OrganizationID: "org1", Title: "team", Members: []string{"bob"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/conversations", model.CreateGroupRequest{
		OrganizationID: "org1", Members: []string{"mallory"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "alice", http.MethodPost, "/api/v1/conversations", model.CreateGroupRequest{OrganizationID: "org1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "alice", http.MethodPost, "/api/v1/conversations/private", model.CreatePrivateRequest{UserID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := decode[model.CreateConversationResponse](t, rec).Conversation.ID
	base := "/api/v1/conversations/" + convID

	rec = f.do(t, "alice", http.MethodPost, base+"/messages", model.SendMessageRequest{Content: "hi", ClientRef: "c1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	ack := decode[model.SendMessageResponse](t, rec)
	assert.Equal(t, "c1", ack.ClientRef)
	assert.Equal(t, uint64(1), ack.Seq)
	assert.Equal(t, convID, ack.ConversationID)
	assert.Contains(t, rec.Body.String(), `"conversation_id"`)
	assert.Contains(t, rec.Body.String(), `"sent_at"`)

	rec = f.do(t, "mallory", http.MethodPost, base+"/messages", model.SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_MEMBER")

	rec = f.do(t, "alice", http.MethodPost, base+"/messages", model.SendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "bob", http.MethodGet, base+"/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[model.ListMessagesResponse](t, rec)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi", history.Messages[0].Content)

	rec = f.do(t, "bob", http.MethodGet, "/api/v1/notifications/unread-count", nil)
	assert.Equal(t, 1, decode[model.UnreadCountResponse](t, rec).Count)

	rec = f.do(t, "bob", http.MethodPost, base+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "bob", http.MethodGet, "/api/v1/notifications/unread-count", nil)
	assert.Equal(t, 0, decode[model.UnreadCountResponse](t, rec).Count)

	rec = f.do(t, "bob", http.MethodGet, "/api/v1/conversations/not-a-uuid/messages", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.store.AddEvent(model.Event{ID: "E", Title: "Launch", StartsAt: f.now.Add(3 * time.Hour), Members: []string{"u1", "u2"}})

	rec := f.do(t, "", http.MethodPost, "/api/v1/notifications/process", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "u1", http.MethodPost, "/api/v1/notifications/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DispatchResult{Evaluated: 1, Created: 2}, decode[model.DispatchResult](t, rec))

	rec = f.do(t, "u1", http.MethodPost, "/api/v1/notifications/process", nil)
	assert.Equal(t, model.DispatchResult{Evaluated: 1, Skipped: 2}, decode[model.DispatchResult](t, rec))

	rec = f.do(t, "u2", http.MethodGet, "/api/v1/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListNotificationsResponse](t, rec)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, 1, list.Unread)

	rec = f.do(t, "u2", http.MethodPost, "/api/v1/notifications/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "u2", http.MethodGet, "/api/v1/notifications/unread-count?recompute=true", nil)
	assert.Equal(t, 0, decode[model.UnreadCountResponse](t, rec).Count)
}

type fakeQueue struct {
	calls int
	err   error
}

func (q *fakeQueue) Enqueue(context.Context) (string, error) {
	q.calls++
	if q.err != nil {
		return "", q.err
	}
	return "task-1", nil
}

func TestProcessThroughQueue(t *testing.T) {
	f := newAPIFixture(t)
	f.store.AddEvent(model.Event{ID: "E", Title: "Launch", StartsAt: f.now.Add(3 * time.Hour), Members: []string{"u1", "u2"}})
	q := &fakeQueue{}
	f.notifications.UseQueue(q)

	rec := f.do(t, "u1", http.MethodPost, "/api/v1/notifications/process", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, model.ProcessQueuedResponse{TaskID: "task-1", Queued: true}, decode[model.ProcessQueuedResponse](t, rec))
	assert.Equal(t, 1, q.calls)

	// The pass runs on a worker, not in the request.
	rec = f.do(t, "u2", http.MethodGet, "/api/v1/notifications", nil)
	assert.Empty(t, decode[model.ListNotificationsResponse](t, rec).Notifications)

	q.err = errors.New("redis down")
	rec = f.do(t, "u1", http.MethodPost, "/api/v1/notifications/process", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	ok := NewHealthHandler(Check{Name: "store", Probe: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ok.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewHealthHandler(Check{Name: "cache", Probe: func(context.Context) error { return errors.New("down") }})
	rec = httptest.NewRecorder()
	down.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache unavailable")

	rec = httptest.NewRecorder()
	down.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
