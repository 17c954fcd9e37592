package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/michel-DC/Teamify-sub004/internal/middleware"
	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// MessageHandler handles message endpoints. Sending over HTTP goes through
// the same router as the socket path, so persistence order and fan-out are
// identical.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log.Named("http.messages"),
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	afterSeq, err := middleware.QueryUint(r, "after_seq")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := middleware.QueryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp, err := h.messageService.History(ctx, middleware.GetUserID(ctx), conversationID, afterSeq, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	ack, err := h.messageService.Send(ctx, middleware.GetUserID(ctx), conversationID, req.Content)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ack.ClientRef = req.ClientRef

	writeJSON(w, http.StatusCreated, model.NewSendMessageResponse(ack))
}

type markReadResponse struct {
	Cleared int `json:"cleared"`
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	cleared, err := h.messageService.MarkRead(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Cleared: cleared})
}
