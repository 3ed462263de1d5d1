package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messenger/internal/middleware"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/service"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	authority *service.MessageAuthority
	logger    *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(authority *service.MessageAuthority, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		authority: authority,
		logger:    log,
	}
}

// Send handles POST /api/v1/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(r, w, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateMessageContent(req.Body); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	msg, err := h.authority.Send(r.Context(), req.ConversationID, middleware.GetViewer(r.Context()), req.Body, req.Image)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// Edit handles PATCH /api/v1/messages/:id
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateID("message", messageID); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	var req model.EditMessageRequest
	if err := decodeJSON(r, w, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := middleware.ValidateMessageContent(req.Body); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	msg, err := h.authority.Edit(r.Context(), messageID, middleware.GetViewer(r.Context()), req.Body)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// Delete handles DELETE /api/v1/messages/:id
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateID("message", messageID); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	if err := h.authority.Delete(r.Context(), messageID, middleware.GetViewer(r.Context())); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
