//go:generate go run go.uber.org/mock/mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// Package store defines the Store Gateway, the single source of truth for
// users, conversations and messages.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
)

// Gateway is authoritative CRUD over users, conversations and messages.
// Implementations return errors wrapping the common taxonomy.
type Gateway interface {
	CreateUser(ctx context.Context, user *model.User) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, id, name, image string) (*model.User, error)

	CreateConversation(ctx context.Context, name string, isGroup bool, participantIDs []string) (*model.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// ListConversationsFor returns the user's conversations newest activity first.
	ListConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, conversationID, senderID, body, image string) (*model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// UpdateMessageSeen adds userID to the message's seen set in one atomic
	// step and reports whether userID was already present before the call.
	UpdateMessageSeen(ctx context.Context, messageID, userID string) (*model.Message, bool, error)
	UpdateMessageBody(ctx context.Context, messageID, body string) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// CheckParticipants validates the participant invariant for a new
// conversation and returns the de-duplicated ids.
func CheckParticipants(isGroup bool, participantIDs []string) ([]string, error) {
	ids := lo.Uniq(lo.Filter(participantIDs, func(id string, _ int) bool {
		return strings.TrimSpace(id) != ""
	}))

	switch {
	case !isGroup && len(ids) != model.MinParticipants:
		return nil, fmt.Errorf("%w: direct conversation needs exactly %d participants, got %d",
			common.ErrConflict, model.MinParticipants, len(ids))
	case isGroup && len(ids) < model.MinParticipants:
		return nil, fmt.Errorf("%w: group conversation needs at least %d participants, got %d",
			common.ErrConflict, model.MinParticipants, len(ids))
	}
	return ids, nil
}

// CheckContent validates that a new message carries a body or an image.
func CheckContent(body, image string) error {
	if strings.TrimSpace(body) == "" && strings.TrimSpace(image) == "" {
		return fmt.Errorf("%w: message needs a body or an image", common.ErrValidation)
	}
	return nil
}
