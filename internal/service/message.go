package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/store"
	"github.com/capitalize-ai/messenger/pkg/logger"
	"github.com/capitalize-ai/messenger/pkg/metrics"
)

// MessageAuthority enforces who may send, edit and delete messages and
// broadcasts the results.
type MessageAuthority struct {
	store store.Gateway
	notifier
}

// NewMessageAuthority creates a message mutation authority.
func NewMessageAuthority(gw store.Gateway, pub bus.Publisher, log *logger.Logger) *MessageAuthority {
	return &MessageAuthority{
		store:    gw,
		notifier: notifier{bus: pub, logger: log.Named("messages")},
	}
}

// Send appends a message to a conversation the sender takes part in.
func (a *MessageAuthority) Send(ctx context.Context, conversationID string, sender model.Viewer, body, image string) (msg *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessageAuthority.Send", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("viewer.id", sender.UserID),
	))
	defer func() {
		metrics.RecordMutation("send", err)
		finish(span, err)
	}()

	if err := requireViewer(sender); err != nil {
		return nil, err
	}
	if err := store.CheckContent(body, image); err != nil {
		return nil, err
	}

	conv, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(conv, sender); err != nil {
		return nil, err
	}

	msg, err = a.store.AppendMessage(ctx, conversationID, sender.UserID, body, image)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	a.notify(ctx, channel.Conversation(conversationID), channel.MessageNew, msg)
	a.notifyAll(ctx, userChannels(conv.Participants), channel.ConversationUpdate, conv.Summary(*msg))

	a.logger.Debug("message sent",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
	)
	return msg, nil
}

// Edit replaces the body of a message. Only the sender may edit, and only
// messages without an image.
func (a *MessageAuthority) Edit(ctx context.Context, messageID string, editor model.Viewer, newBody string) (msg *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessageAuthority.Edit", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("viewer.id", editor.UserID),
	))
	defer func() {
		metrics.RecordMutation("edit", err)
		finish(span, err)
	}()

	if err := requireViewer(editor); err != nil {
		return nil, err
	}

	current, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if current.Sender.ID != editor.UserID {
		return nil, fmt.Errorf("%w: only the sender may edit message %s", common.ErrForbidden, messageID)
	}
	if current.HasImage() {
		return nil, fmt.Errorf("%w: message %s has an image and cannot be edited", common.ErrValidation, messageID)
	}
	if strings.TrimSpace(newBody) == "" {
		return nil, fmt.Errorf("%w: message body cannot be empty", common.ErrValidation)
	}

	msg, err = a.store.UpdateMessageBody(ctx, messageID, newBody)
	if err != nil {
		return nil, fmt.Errorf("failed to update message %s: %w", messageID, err)
	}

	a.notify(ctx, channel.Conversation(msg.ConversationID), channel.MessageEdited, msg)

	// Conversation lists show the last message, so an edit to it is also a
	// summary change.
	conv, err := a.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		a.logger.Warn("conversation summary not refreshed after edit",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return msg, nil
	}
	if last := conv.LastMessage(); last != nil && last.ID == msg.ID {
		a.notifyAll(ctx, userChannels(conv.Participants), channel.ConversationUpdate, conv.Summary(*msg))
	}
	return msg, nil
}

// Delete removes a message. Only the sender may delete.
func (a *MessageAuthority) Delete(ctx context.Context, messageID string, requester model.Viewer) (err error) {
	ctx, span := tracer.Start(ctx, "MessageAuthority.Delete", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("viewer.id", requester.UserID),
	))
	defer func() {
		metrics.RecordMutation("delete", err)
		finish(span, err)
	}()

	if err := requireViewer(requester); err != nil {
		return err
	}

	msg, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Sender.ID != requester.UserID {
		return fmt.Errorf("%w: only the sender may delete message %s", common.ErrForbidden, messageID)
	}

	if err := a.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}

	a.notify(ctx, channel.Conversation(msg.ConversationID), channel.MessageDeleted, model.MessageDeleted{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
	})

	conv, err := a.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		a.logger.Warn("conversation summary not refreshed after delete",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return nil
	}
	a.notifyAll(ctx, userChannels(conv.Participants), channel.ConversationUpdate, tail(conv))
	return nil
}
