package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
)

type memConversation struct {
	id           string
	name         string
	isGroup      bool
	participants []string
	messages     []string
	createdAt    time.Time
	lastMessage  time.Time
}

type memMessage struct {
	id             string
	conversationID string
	senderID       string
	body           string
	image          string
	createdAt      time.Time
	editedAt       *time.Time
	seen           []string
}

// Memory is an in-process Gateway. Every operation runs under one lock,
// which makes each of them atomic.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[string]*memConversation
	messages      map[string]*memMessage
	now           func() time.Time
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]*model.User),
		conversations: make(map[string]*memConversation),
		messages:      make(map[string]*memMessage),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *Memory) WithClock(now func() time.Time) *Memory {
	s.now = now
	return s
}

var _ Gateway = (*Memory)(nil)

// CreateUser stores a user. An empty ID is filled in.
func (s *Memory) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Email == "" {
		return nil, fmt.Errorf("%w: user email is required", common.ErrValidation)
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return nil, fmt.Errorf("%w: email %s already registered", common.ErrConflict, user.Email)
		}
	}

	u := *user
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV7()).String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = &u

	out := u
	return &out, nil
}

// GetUser returns a user by id.
func (s *Memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", common.ErrNotFound, id)
	}
	out := *u
	return &out, nil
}

// ListUsers returns every user, newest first.
func (s *Memory) ListUsers(ctx context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := lo.Map(lo.Values(s.users), func(u *model.User, _ int) model.User { return *u })
	sortUsers(users)
	return users, nil
}

// UpdateUser changes profile fields. Empty values leave a field unchanged.
func (s *Memory) UpdateUser(ctx context.Context, id, name, image string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", common.ErrNotFound, id)
	}
	if name != "" {
		u.Name = name
	}
	if image != "" {
		u.Image = image
	}
	out := *u
	return &out, nil
}

// CreateConversation stores a conversation between existing users.
func (s *Memory) CreateConversation(ctx context.Context, name string, isGroup bool, participantIDs []string) (*model.Conversation, error) {
	ids, err := CheckParticipants(isGroup, participantIDs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			return nil, fmt.Errorf("%w: user %s", common.ErrNotFound, id)
		}
	}

	c := &memConversation{
		id:           uuid.Must(uuid.NewV7()).String(),
		isGroup:      isGroup,
		participants: ids,
		createdAt:    s.now(),
	}
	if isGroup {
		c.name = name
	}
	s.conversations[c.id] = c

	return s.conversationLocked(c), nil
}

// FindDirectConversation returns the direct conversation between two users.
func (s *Memory) FindDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conversations {
		if c.isGroup {
			continue
		}
		if lo.Contains(c.participants, userA) && lo.Contains(c.participants, userB) {
			return s.conversationLocked(c), nil
		}
	}
	return nil, fmt.Errorf("%w: no direct conversation between %s and %s", common.ErrNotFound, userA, userB)
}

// GetConversation returns a conversation with participants and messages.
func (s *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", common.ErrNotFound, id)
	}
	return s.conversationLocked(c), nil
}

// ListConversationsFor returns the user's conversations newest activity first.
func (s *Memory) ListConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for _, c := range s.conversations {
		if lo.Contains(c.participants, userID) {
			out = append(out, *s.conversationLocked(c))
		}
	}
	model.SortByActivity(out)
	return out, nil
}

// RemoveParticipant drops a user from a conversation if the minimum holds.
func (s *Memory) RemoveParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", common.ErrNotFound, conversationID)
	}
	if !lo.Contains(c.participants, userID) {
		return nil, fmt.Errorf("%w: user %s in conversation %s", common.ErrNotFound, userID, conversationID)
	}
	if !c.isGroup || len(c.participants)-1 < model.MinParticipants {
		return nil, fmt.Errorf("%w: conversation %s cannot drop below %d participants",
			common.ErrConflict, conversationID, model.MinParticipants)
	}

	c.participants = lo.Without(c.participants, userID)
	return s.conversationLocked(c), nil
}

// DeleteConversation removes the conversation and its messages.
func (s *Memory) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: conversation %s", common.ErrNotFound, id)
	}
	for _, mid := range c.messages {
		delete(s.messages, mid)
	}
	delete(s.conversations, id)
	return nil
}

// AppendMessage stores a new message at the end of a conversation.
func (s *Memory) AppendMessage(ctx context.Context, conversationID, senderID, body, image string) (*model.Message, error) {
	if err := CheckContent(body, image); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", common.ErrNotFound, conversationID)
	}
	if _, ok := s.users[senderID]; !ok {
		return nil, fmt.Errorf("%w: user %s", common.ErrNotFound, senderID)
	}

	m := &memMessage{
		id:             uuid.Must(uuid.NewV7()).String(),
		conversationID: conversationID,
		senderID:       senderID,
		body:           body,
		image:          image,
		createdAt:      s.now(),
	}
	s.messages[m.id] = m
	c.messages = append(c.messages, m.id)
	c.lastMessage = m.createdAt

	return s.messageLocked(m), nil
}

// GetMessage returns a message by id.
func (s *Memory) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", common.ErrNotFound, id)
	}
	return s.messageLocked(m), nil
}

// UpdateMessageSeen adds userID to the seen set and reports whether it was
// already there. Check and insert share one critical section.
func (s *Memory) UpdateMessageSeen(ctx context.Context, messageID, userID string) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, false, fmt.Errorf("%w: message %s", common.ErrNotFound, messageID)
	}
	if _, ok := s.users[userID]; !ok {
		return nil, false, fmt.Errorf("%w: user %s", common.ErrNotFound, userID)
	}

	alreadySeen := lo.Contains(m.seen, userID)
	if !alreadySeen {
		m.seen = append(m.seen, userID)
	}
	return s.messageLocked(m), alreadySeen, nil
}

// UpdateMessageBody replaces the body of a message.
func (s *Memory) UpdateMessageBody(ctx context.Context, messageID, body string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", common.ErrNotFound, messageID)
	}
	now := s.now()
	m.body = body
	m.editedAt = &now
	return s.messageLocked(m), nil
}

// DeleteMessage removes a message from its conversation.
func (s *Memory) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("%w: message %s", common.ErrNotFound, id)
	}
	delete(s.messages, id)

	if c, ok := s.conversations[m.conversationID]; ok {
		c.messages = lo.Without(c.messages, id)
		c.lastMessage = time.Time{}
		if n := len(c.messages); n > 0 {
			c.lastMessage = s.messages[c.messages[n-1]].createdAt
		}
	}
	return nil
}

func (s *Memory) conversationLocked(c *memConversation) *model.Conversation {
	conv := &model.Conversation{
		ID:            c.id,
		Name:          c.name,
		IsGroup:       c.isGroup,
		CreatedAt:     c.createdAt,
		LastMessageAt: c.lastMessage,
		Participants:  s.usersLocked(c.participants),
		Messages:      make([]model.Message, 0, len(c.messages)),
	}
	for _, mid := range c.messages {
		if m, ok := s.messages[mid]; ok {
			conv.Messages = append(conv.Messages, *s.messageLocked(m))
		}
	}
	return conv
}

func (s *Memory) messageLocked(m *memMessage) *model.Message {
	msg := &model.Message{
		ID:             m.id,
		ConversationID: m.conversationID,
		Body:           m.body,
		Image:          m.image,
		CreatedAt:      m.createdAt,
		SeenBy:         s.usersLocked(m.seen),
	}
	if u, ok := s.users[m.senderID]; ok {
		msg.Sender = *u
	}
	if m.editedAt != nil {
		t := *m.editedAt
		msg.EditedAt = &t
	}
	return msg
}

func (s *Memory) usersLocked(ids []string) []model.User {
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}
