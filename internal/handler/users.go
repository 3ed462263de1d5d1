package handler

import (
	"net/http"

	"github.com/capitalize-ai/messenger/internal/middleware"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/service"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

// UserHandler handles user endpoints.
type UserHandler struct {
	service *service.UserService
	logger  *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc *service.UserService, log *logger.Logger) *UserHandler {
	return &UserHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context(), middleware.GetViewer(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}

	writeJSON(w, http.StatusOK, users)
}

// UpdateProfile handles PATCH /api/v1/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateProfileRequest
	if err := decodeJSON(r, w, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), middleware.GetViewer(r.Context()), &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
