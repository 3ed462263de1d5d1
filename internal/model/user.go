package model

import "time"

// User is a chat identity. ID and Email never change; Name and Image are
// profile fields the user may edit.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Viewer is the authenticated identity behind a request. It is passed
// explicitly into every coordinator call.
type Viewer struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// UpdateProfileRequest is the request to change profile settings.
type UpdateProfileRequest struct {
	Name  string `json:"name" validate:"omitempty,max=128"`
	Image string `json:"image" validate:"omitempty,max=2048"`
}

// Valid reports whether the viewer carries both identity fields.
func (v Viewer) Valid() bool {
	return v.UserID != "" && v.Email != ""
}
