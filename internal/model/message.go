package model

import (
	"time"
)

// Message is a single chat message. Body and Image are both optional but at
// least one is set.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         User       `json:"sender"`
	Body           string     `json:"body,omitempty"`
	Image          string     `json:"image,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	SeenBy         []User     `json:"seen_by"`
}

// SeenByUser reports whether userID is in the seen set.
func (m *Message) SeenByUser(userID string) bool {
	for _, u := range m.SeenBy {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// SeenByEmail reports whether a user with the given email is in the seen set.
func (m *Message) SeenByEmail(email string) bool {
	for _, u := range m.SeenBy {
		if u.Email == email {
			return true
		}
	}
	return false
}

// HasImage reports whether an image is attached.
func (m *Message) HasImage() bool {
	return m.Image != ""
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Body           string `json:"body" validate:"max=100000"`
	Image          string `json:"image" validate:"omitempty,max=2048"`
}

// EditMessageRequest is the request to change a message body.
type EditMessageRequest struct {
	Body string `json:"body" validate:"max=100000"`
}

// SeenResponse is returned by the seen endpoint.
type SeenResponse struct {
	Conversation *Conversation `json:"conversation"`
	Message      *Message      `json:"message,omitempty"`
	Broadcast    bool          `json:"broadcast"`
}
