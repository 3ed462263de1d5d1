package model

import (
	"time"
)

// MessageDeleted is the payload of a message:deleted event.
type MessageDeleted struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// PresenceDelta is a membership change on the presence channel.
type PresenceDelta struct {
	Joined []string `json:"joined,omitempty"`
	Left   []string `json:"left,omitempty"`
}

// PresenceAnnounce is sent by a client to keep its key present.
type PresenceAnnounce struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// PresenceSnapshot is the reply to a snapshot request.
type PresenceSnapshot struct {
	Members []string  `json:"members"`
	At      time.Time `json:"at"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}
