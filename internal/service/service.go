// Package service implements the server-side coordinators. Each operation
// validates first, persists through the store gateway, and only then
// announces the result on the notification bus.
package service

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

var tracer = otel.Tracer("github.com/capitalize-ai/messenger/internal/service")

// notifier publishes events after a change has been persisted. A failed
// publish leaves the store authoritative: it is logged and the caller's
// request still succeeds.
type notifier struct {
	bus    bus.Publisher
	logger *logger.Logger
}

func (n notifier) notify(ctx context.Context, ch, event string, payload any) bool {
	if err := n.bus.Publish(ctx, ch, event, payload); err != nil {
		n.logger.Warn("event not delivered",
			zap.String("channel", ch),
			zap.String("event", event),
			zap.Error(err),
		)
		return false
	}
	return true
}

// notifyAll publishes the same event on every channel.
func (n notifier) notifyAll(ctx context.Context, channels []string, event string, payload any) {
	for _, ch := range channels {
		n.notify(ctx, ch, event, payload)
	}
}

func requireViewer(v model.Viewer) error {
	if v.UserID == "" {
		return fmt.Errorf("%w: missing viewer identity", common.ErrUnauthorized)
	}
	return nil
}

func requireParticipant(conv *model.Conversation, v model.Viewer) error {
	if !conv.HasParticipant(v.UserID) {
		return fmt.Errorf("%w: user %s is not a participant of conversation %s",
			common.ErrForbidden, v.UserID, conv.ID)
	}
	return nil
}

// userChannels returns the per-user channel of every participant.
func userChannels(users []model.User) []string {
	return lo.Map(users, func(u model.User, _ int) string { return channel.User(u.Email) })
}

// tail is the conversation:update projection after the message list changed.
func tail(conv *model.Conversation) model.Conversation {
	if last := conv.LastMessage(); last != nil {
		return conv.Summary(*last)
	}
	return conv.Summary()
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
