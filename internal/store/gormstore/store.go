// Package gormstore is the relational Store Gateway built on gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/store"
)

// Open connects to MySQL.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables. Intended for development and tests.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&conversationRecord{}, "Participants", &participantRecord{}); err != nil {
		return fmt.Errorf("failed to set up participants join table: %w", err)
	}
	if err := db.SetupJoinTable(&messageRecord{}, "SeenBy", &seenRecord{}); err != nil {
		return fmt.Errorf("failed to set up seen join table: %w", err)
	}
	return db.AutoMigrate(
		&userRecord{},
		&conversationRecord{},
		&participantRecord{},
		&messageRecord{},
		&seenRecord{},
	)
}

// Store is a store.Gateway backed by a relational database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an opened and migrated database.
func New(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

var _ store.Gateway = (*Store)(nil)

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", common.ErrNotFound, what)
	}
	return err
}

func withMessageDetail(db *gorm.DB) *gorm.DB {
	return db.Preload("Sender").Preload("SeenBy")
}

func withConversationDetail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Participants").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Messages.Sender").
		Preload("Messages.SeenBy")
}

// CreateUser stores a user. An empty ID is filled in.
func (s *Store) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	if user.Email == "" {
		return nil, fmt.Errorf("%w: user email is required", common.ErrValidation)
	}

	rec := userRecord{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Image:     user.Image,
		CreatedAt: user.CreatedAt,
	}
	if rec.ID == "" {
		rec.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRecord{}).Where("email = ?", rec.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: email %s already registered", common.ErrConflict, rec.Email)
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, err
	}

	out := rec.toModel()
	return &out, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user "+id)
	}
	out := rec.toModel()
	return &out, nil
}

// ListUsers returns every user, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var recs []userRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC, id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return lo.Map(recs, func(r userRecord, _ int) model.User { return r.toModel() }), nil
}

// UpdateUser changes profile fields. Empty values leave a field unchanged.
func (s *Store) UpdateUser(ctx context.Context, id, name, image string) (*model.User, error) {
	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if image != "" {
		updates["image"] = image
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err, "user "+id)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&rec).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// CreateConversation stores a conversation between existing users.
func (s *Store) CreateConversation(ctx context.Context, name string, isGroup bool, participantIDs []string) (*model.Conversation, error) {
	ids, err := store.CheckParticipants(isGroup, participantIDs)
	if err != nil {
		return nil, err
	}

	rec := conversationRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		IsGroup:   isGroup,
		CreatedAt: s.now(),
	}
	if isGroup {
		rec.Name = name
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRecord{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
			return err
		}
		if int(n) != len(ids) {
			return fmt.Errorf("%w: one or more participants do not exist", common.ErrNotFound)
		}
		if err := tx.Omit(clause.Associations).Create(&rec).Error; err != nil {
			return err
		}
		rows := lo.Map(ids, func(id string, _ int) participantRecord {
			return participantRecord{ConversationID: rec.ID, UserID: id}
		})
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, rec.ID)
}

// FindDirectConversation returns the direct conversation between two users.
func (s *Store) FindDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Table("conversations AS c").
		Joins("JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = ?", userA).
		Joins("JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = ?", userB).
		Where("c.is_group = ?", false).
		Limit(1).
		Pluck("c.id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no direct conversation between %s and %s", common.ErrNotFound, userA, userB)
	}
	return s.GetConversation(ctx, ids[0])
}

// GetConversation returns a conversation with participants and messages.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var rec conversationRecord
	if err := withConversationDetail(s.db.WithContext(ctx)).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "conversation "+id)
	}
	out := rec.toModel()
	return &out, nil
}

// ListConversationsFor returns the user's conversations newest activity first.
func (s *Store) ListConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	db := s.db.WithContext(ctx)
	member := db.Model(&participantRecord{}).Select("conversation_id").Where("user_id = ?", userID)

	var recs []conversationRecord
	if err := withConversationDetail(db).Where("id IN (?)", member).Find(&recs).Error; err != nil {
		return nil, err
	}

	out := lo.Map(recs, func(r conversationRecord, _ int) model.Conversation { return r.toModel() })
	model.SortByActivity(out)
	return out, nil
}

// RemoveParticipant drops a user from a conversation if the minimum holds.
func (s *Store) RemoveParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec conversationRecord
		if err := tx.First(&rec, "id = ?", conversationID).Error; err != nil {
			return notFound(err, "conversation "+conversationID)
		}

		var count int64
		if err := tx.Model(&participantRecord{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		var member int64
		if err := tx.Model(&participantRecord{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Count(&member).Error; err != nil {
			return err
		}
		if member == 0 {
			return fmt.Errorf("%w: user %s in conversation %s", common.ErrNotFound, userID, conversationID)
		}
		if !rec.IsGroup || int(count)-1 < model.MinParticipants {
			return fmt.Errorf("%w: conversation %s cannot drop below %d participants",
				common.ErrConflict, conversationID, model.MinParticipants)
		}

		return tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Delete(&participantRecord{}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, conversationID)
}

// DeleteConversation removes the conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec conversationRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err, "conversation "+id)
		}

		messages := tx.Model(&messageRecord{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", messages).Delete(&seenRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&participantRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&rec).Error
	})
}

// AppendMessage stores a new message at the end of a conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, body, image string) (*model.Message, error) {
	if err := store.CheckContent(body, image); err != nil {
		return nil, err
	}

	rec := messageRecord{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Image:          image,
		CreatedAt:      s.now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversationRecord
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			return notFound(err, "conversation "+conversationID)
		}
		var sender userRecord
		if err := tx.First(&sender, "id = ?", senderID).Error; err != nil {
			return notFound(err, "user "+senderID)
		}
		if err := tx.Omit(clause.Associations).Create(&rec).Error; err != nil {
			return err
		}
		return tx.Model(&conv).Update("last_message_at", rec.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, rec.ID)
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var rec messageRecord
	if err := withMessageDetail(s.db.WithContext(ctx)).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "message "+id)
	}
	out := rec.toModel()
	return &out, nil
}

// UpdateMessageSeen inserts the (message, user) receipt with ON CONFLICT DO
// NOTHING. Zero affected rows means the receipt already existed.
func (s *Store) UpdateMessageSeen(ctx context.Context, messageID, userID string) (*model.Message, bool, error) {
	var alreadySeen bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg messageRecord
		if err := tx.Select("id").First(&msg, "id = ?", messageID).Error; err != nil {
			return notFound(err, "message "+messageID)
		}
		var viewer userRecord
		if err := tx.Select("id").First(&viewer, "id = ?", userID).Error; err != nil {
			return notFound(err, "user "+userID)
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&seenRecord{MessageID: messageID, UserID: userID})
		if res.Error != nil {
			return res.Error
		}
		alreadySeen = res.RowsAffected == 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, alreadySeen, nil
}

// UpdateMessageBody replaces the body of a message.
func (s *Store) UpdateMessageBody(ctx context.Context, messageID, body string) (*model.Message, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec messageRecord
		if err := tx.First(&rec, "id = ?", messageID).Error; err != nil {
			return notFound(err, "message "+messageID)
		}
		return tx.Model(&rec).Updates(map[string]any{
			"body":      body,
			"edited_at": s.now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, messageID)
}

// DeleteMessage removes a message and refreshes the conversation's last
// activity time.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec messageRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err, "message "+id)
		}
		if err := tx.Where("message_id = ?", id).Delete(&seenRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&rec).Error; err != nil {
			return err
		}

		var latest []messageRecord
		if err := tx.Where("conversation_id = ?", rec.ConversationID).
			Order("created_at DESC, id DESC").
			Limit(1).
			Find(&latest).Error; err != nil {
			return err
		}
		var last *time.Time
		if len(latest) > 0 {
			last = &latest[0].CreatedAt
		}
		return tx.Model(&conversationRecord{}).
			Where("id = ?", rec.ConversationID).
			Update("last_message_at", last).Error
	})
}
