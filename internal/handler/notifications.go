package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/middleware"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// Dispatcher runs one reminder pass on demand.
type Dispatcher interface {
	ProcessEventNotifications(ctx context.Context) (model.DispatchResult, error)
}

// TaskQueue hands a reminder pass to the background workers.
type TaskQueue interface {
	Enqueue(ctx context.Context) (string, error)
}

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	notifications *service.NotificationService
	unread        *service.UnreadService
	dispatcher    Dispatcher
	queue         TaskQueue
	logger        *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notifications *service.NotificationService, unread *service.UnreadService, dispatcher Dispatcher, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		unread:        unread,
		dispatcher:    dispatcher,
		logger:        log.Named("http.notifications"),
	}
}

// UseQueue routes on-demand passes through q instead of running them in the
// request.
func (h *NotificationHandler) UseQueue(q TaskQueue) {
	h.queue = q
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := middleware.QueryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp, err := h.notifications.List(ctx, middleware.GetUserID(ctx), middleware.QueryBool(r, "unread"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// UnreadCount handles GET /api/v1/notifications/unread-count. With
// ?recompute=true the counter is rebuilt from persisted state first.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	count := h.unread.Count
	if middleware.QueryBool(r, "recompute") {
		count = h.unread.Recompute
	}
	n, err := count(ctx, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UnreadCountResponse{Count: n})
}

// MarkRead handles POST /api/v1/notifications/read. An empty body or an
// empty id list marks everything read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.MarkReadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	cleared, err := h.notifications.MarkRead(ctx, middleware.GetUserID(ctx), req.IDs)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Cleared: cleared})
}

// Process handles POST /api/v1/notifications/process. Any authenticated
// caller may trigger a pass; repeated calls are harmless. With a queue the
// pass joins the scheduled ones and the response is 202 with the task id.
func (h *NotificationHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx).With(zap.String("user_id", middleware.GetUserID(ctx)))

	if h.queue != nil {
		taskID, err := h.queue.Enqueue(ctx)
		if err != nil {
			writeError(w, h.logger, apperrors.Wrap(apperrors.CodeInternal, "enqueue notification pass", err))
			return
		}
		log.Info("notification pass queued", zap.String("task_id", taskID))
		writeJSON(w, http.StatusAccepted, model.ProcessQueuedResponse{TaskID: taskID, Queued: true})
		return
	}

	result, err := h.dispatcher.ProcessEventNotifications(ctx)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	log.Info("notification pass triggered", zap.Int("created", result.Created))
	writeJSON(w, http.StatusOK, result)
}
