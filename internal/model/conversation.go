// Package model defines data structures for the messenger.
package model

import (
	"sort"
	"time"
)

// Conversation is a direct or group thread between users.
type Conversation struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	IsGroup       bool      `json:"is_group"`
	Participants  []User    `json:"participants,omitempty"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// MinParticipants is the smallest participant count of any conversation.
const MinParticipants = 2

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// LastMessage returns the newest message by creation time, or nil.
func (c *Conversation) LastMessage() *Message {
	var last *Message
	for i := range c.Messages {
		m := &c.Messages[i]
		if last == nil || !m.CreatedAt.Before(last.CreatedAt) {
			last = m
		}
	}
	return last
}

// LastActivity is the time used to order conversation lists.
func (c *Conversation) LastActivity() time.Time {
	if m := c.LastMessage(); m != nil && m.CreatedAt.After(c.LastMessageAt) {
		return m.CreatedAt
	}
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// Summary returns the projection carried by conversation:update events:
// the id plus the given messages.
func (c *Conversation) Summary(messages ...Message) Conversation {
	if messages == nil {
		messages = []Message{}
	}
	return Conversation{ID: c.ID, Messages: messages}
}

// CreateConversationRequest is the request to start a conversation. A direct
// conversation names UserID; a group names Name and Members.
type CreateConversationRequest struct {
	UserID  string   `json:"user_id" validate:"required_without=IsGroup"`
	IsGroup bool     `json:"is_group"`
	Name    string   `json:"name" validate:"required_if=IsGroup true,max=256"`
	Members []string `json:"members" validate:"required_if=IsGroup true,dive,required"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// SortByActivity orders conversations newest activity first. Equal
// timestamps fall back to id ascending so the order is total and stable.
func SortByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		ai, aj := convs[i].LastActivity(), convs[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return convs[i].ID < convs[j].ID
	})
}
