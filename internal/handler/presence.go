package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

// MemberLister reports who is on the presence channel.
type MemberLister interface {
	Members(ctx context.Context) ([]string, error)
}

// PresenceHandler serves the presence snapshot over HTTP for clients that
// are not on the bus.
type PresenceHandler struct {
	members MemberLister
	logger  *logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(members MemberLister, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		members: members,
		logger:  log,
	}
}

// Snapshot handles GET /api/v1/presence
func (h *PresenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.Members(r.Context())
	if err != nil {
		fail(w, r, h.logger, fmt.Errorf("%w: presence registry: %v", common.ErrTransportUnavailable, err))
		return
	}
	if members == nil {
		members = []string{}
	}

	writeJSON(w, http.StatusOK, model.PresenceSnapshot{
		Members: members,
		At:      time.Now().UTC(),
	})
}
