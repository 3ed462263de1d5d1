package gormstore

import (
	"time"

	"github.com/capitalize-ai/messenger/internal/model"
)

type userRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Email     string    `gorm:"uniqueIndex;size:255;not null"`
	Name      string    `gorm:"size:128"`
	Image     string    `gorm:"size:2048"`
	CreatedAt time.Time `gorm:"index"`
}

func (userRecord) TableName() string { return "users" }

type conversationRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	Name          string `gorm:"size:256"`
	IsGroup       bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	LastMessageAt *time.Time      `gorm:"index"`
	Participants  []userRecord    `gorm:"many2many:conversation_participants;joinForeignKey:ConversationID;joinReferences:UserID"`
	Messages      []messageRecord `gorm:"foreignKey:ConversationID"`
}

func (conversationRecord) TableName() string { return "conversations" }

type participantRecord struct {
	ConversationID string `gorm:"primaryKey;size:36"`
	UserID         string `gorm:"primaryKey;size:36;index"`
}

func (participantRecord) TableName() string { return "conversation_participants" }

type messageRecord struct {
	ID             string       `gorm:"primaryKey;size:36"`
	ConversationID string       `gorm:"size:36;index:idx_messages_conversation_created,priority:1;not null"`
	SenderID       string       `gorm:"size:36;not null"`
	Sender         userRecord   `gorm:"foreignKey:SenderID"`
	Body           string       `gorm:"type:text"`
	Image          string       `gorm:"size:2048"`
	CreatedAt      time.Time    `gorm:"index:idx_messages_conversation_created,priority:2"`
	EditedAt       *time.Time
	SeenBy         []userRecord `gorm:"many2many:message_seen;joinForeignKey:MessageID;joinReferences:UserID"`
}

func (messageRecord) TableName() string { return "messages" }

// seenRecord is one seen receipt. Its composite primary key is what makes
// marking seen a compare-and-set.
type seenRecord struct {
	MessageID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36"`
}

func (seenRecord) TableName() string { return "message_seen" }

func (r userRecord) toModel() model.User {
	return model.User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Image:     r.Image,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (r messageRecord) toModel() model.Message {
	m := model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Sender:         r.Sender.toModel(),
		Body:           r.Body,
		Image:          r.Image,
		CreatedAt:      r.CreatedAt.UTC(),
		SeenBy:         make([]model.User, 0, len(r.SeenBy)),
	}
	if r.EditedAt != nil {
		t := r.EditedAt.UTC()
		m.EditedAt = &t
	}
	for _, u := range r.SeenBy {
		m.SeenBy = append(m.SeenBy, u.toModel())
	}
	return m
}

func (r conversationRecord) toModel() model.Conversation {
	c := model.Conversation{
		ID:           r.ID,
		Name:         r.Name,
		IsGroup:      r.IsGroup,
		CreatedAt:    r.CreatedAt.UTC(),
		Participants: make([]model.User, 0, len(r.Participants)),
		Messages:     make([]model.Message, 0, len(r.Messages)),
	}
	if r.LastMessageAt != nil {
		c.LastMessageAt = r.LastMessageAt.UTC()
	}
	for _, u := range r.Participants {
		c.Participants = append(c.Participants, u.toModel())
	}
	for _, m := range r.Messages {
		c.Messages = append(c.Messages, m.toModel())
	}
	return c
}
