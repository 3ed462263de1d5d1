// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/messenger/internal/middleware"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/service"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	seen    *service.SeenCoordinator
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, seen *service.SeenCoordinator, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		seen:    seen,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if err := decodeJSON(r, w, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	conv, err := h.service.Create(r.Context(), middleware.GetViewer(r.Context()), &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context(), middleware.GetViewer(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	conv, err := h.service.Get(r.Context(), conversationID, middleware.GetViewer(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	if err := h.service.Delete(r.Context(), conversationID, middleware.GetViewer(r.Context())); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Leave handles POST /api/v1/conversations/:id/leave
func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	if _, err := h.service.Leave(r.Context(), conversationID, middleware.GetViewer(r.Context())); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Seen handles POST /api/v1/conversations/:id/seen
func (h *ConversationHandler) Seen(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	resp, err := h.seen.MarkSeen(r.Context(), conversationID, middleware.GetViewer(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
