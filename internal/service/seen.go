package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/store"
	"github.com/capitalize-ai/messenger/pkg/logger"
	"github.com/capitalize-ai/messenger/pkg/metrics"
)

// SeenCoordinator records that a viewer has seen the last message of a
// conversation.
type SeenCoordinator struct {
	store store.Gateway
	notifier
}

// NewSeenCoordinator creates a seen-receipt coordinator.
func NewSeenCoordinator(gw store.Gateway, pub bus.Publisher, log *logger.Logger) *SeenCoordinator {
	return &SeenCoordinator{
		store:    gw,
		notifier: notifier{bus: pub, logger: log.Named("seen")},
	}
}

// MarkSeen adds the viewer to the seen set of the conversation's last
// message. The viewer's own channel always receives conversation:update; the
// conversation channel receives message:update only the first time this
// viewer sees the message.
func (c *SeenCoordinator) MarkSeen(ctx context.Context, conversationID string, viewer model.Viewer) (resp *model.SeenResponse, err error) {
	ctx, span := tracer.Start(ctx, "SeenCoordinator.MarkSeen", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("viewer.id", viewer.UserID),
	))
	defer func() {
		if err != nil {
			metrics.SeenReceipts.WithLabelValues("error").Inc()
		}
		finish(span, err)
	}()

	if err := requireViewer(viewer); err != nil {
		return nil, err
	}

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(conv, viewer); err != nil {
		return nil, err
	}

	last := conv.LastMessage()
	if last == nil {
		metrics.SeenReceipts.WithLabelValues("empty").Inc()
		return &model.SeenResponse{Conversation: conv}, nil
	}

	// Check and insert happen in one step at the store.
	updated, alreadySeen, err := c.store.UpdateMessageSeen(ctx, last.ID, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message %s seen: %w", last.ID, err)
	}
	span.SetAttributes(attribute.Bool("seen.already", alreadySeen))

	for i := range conv.Messages {
		if conv.Messages[i].ID == updated.ID {
			conv.Messages[i] = *updated
		}
	}

	c.notify(ctx, channel.User(c.viewerEmail(conv, viewer)), channel.ConversationUpdate, conv.Summary(*updated))

	if alreadySeen {
		metrics.SeenReceipts.WithLabelValues("repeat").Inc()
	} else {
		c.notify(ctx, channel.Conversation(conv.ID), channel.MessageUpdate, updated)
		metrics.SeenReceipts.WithLabelValues("first").Inc()
		c.logger.Debug("message seen",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", updated.ID),
			zap.String("user_id", viewer.UserID),
		)
	}

	return &model.SeenResponse{
		Conversation: conv,
		Message:      updated,
		Broadcast:    !alreadySeen,
	}, nil
}

// viewerEmail prefers the stored email over the one carried by the token.
func (c *SeenCoordinator) viewerEmail(conv *model.Conversation, viewer model.Viewer) string {
	for _, p := range conv.Participants {
		if p.ID == viewer.UserID && p.Email != "" {
			return p.Email
		}
	}
	return viewer.Email
}
