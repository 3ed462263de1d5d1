package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/store"
)

// UserService exposes the user directory and profile settings.
type UserService struct {
	store store.Gateway
}

// NewUserService creates a user service.
func NewUserService(gw store.Gateway) *UserService {
	return &UserService{store: gw}
}

// List returns every user except the viewer.
func (s *UserService) List(ctx context.Context, viewer model.Viewer) ([]model.User, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return lo.Filter(users, func(u model.User, _ int) bool { return u.ID != viewer.UserID }), nil
}

// UpdateProfile changes the viewer's name and image.
func (s *UserService) UpdateProfile(ctx context.Context, viewer model.Viewer, req *model.UpdateProfileRequest) (*model.User, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	image := strings.TrimSpace(req.Image)
	if name == "" && image == "" {
		return nil, fmt.Errorf("%w: nothing to update", common.ErrValidation)
	}
	return s.store.UpdateUser(ctx, viewer.UserID, name, image)
}
