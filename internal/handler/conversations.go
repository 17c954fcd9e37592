// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/michel-DC/Teamify-sub004/internal/middleware"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log.Named("http.conversations"),
	}
}

// CreateGroup handles POST /api/v1/conversations
func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conv, err := h.service.CreateGroup(ctx, userID, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateConversationResponse{Conversation: conv, Created: true})
}

// CreatePrivate handles POST /api/v1/conversations/private
func (h *ConversationHandler) CreatePrivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreatePrivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conv, created, err := h.service.CreatePrivate(ctx, userID, req.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, model.CreateConversationResponse{Conversation: conv, Created: created})
}

// FindPrivate handles GET /api/v1/conversations/private?with=
func (h *ConversationHandler) FindPrivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	other := r.URL.Query().Get("with")

	if err := middleware.ValidateUserID(other); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conv, err := h.service.FindPrivate(ctx, userID, other)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if conv == nil {
		writeError(w, h.logger, apperrors.NotFound("no private conversation with this user"))
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
