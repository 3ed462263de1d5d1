package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
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

// ConversationService handles conversation operations.
type ConversationService struct {
	store store.Gateway
	notifier
}

// NewConversationService creates a new conversation service.
func NewConversationService(gw store.Gateway, pub bus.Publisher, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:    gw,
		notifier: notifier{bus: pub, logger: log.Named("conversations")},
	}
}

// Create starts a direct conversation with req.UserID, or a group with
// req.Members. An existing direct conversation between the pair is returned
// as is.
func (s *ConversationService) Create(ctx context.Context, viewer model.Viewer, req *model.CreateConversationRequest) (conv *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.Create", trace.WithAttributes(
		attribute.String("viewer.id", viewer.UserID),
		attribute.Bool("conversation.group", req.IsGroup),
	))
	defer func() { finish(span, err) }()

	if err := requireViewer(viewer); err != nil {
		return nil, err
	}

	if req.IsGroup {
		return s.createGroup(ctx, viewer, req)
	}

	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", common.ErrValidation)
	}
	if req.UserID == viewer.UserID {
		return nil, fmt.Errorf("%w: a direct conversation needs two distinct users", common.ErrConflict)
	}
	existing, err := s.store.FindDirectConversation(ctx, viewer.UserID, req.UserID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	conv, err = s.store.CreateConversation(ctx, "", false, []string{viewer.UserID, req.UserID})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, conv, "direct")
	return conv, nil
}

func (s *ConversationService) createGroup(ctx context.Context, viewer model.Viewer, req *model.CreateConversationRequest) (*model.Conversation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", common.ErrValidation)
	}
	others := lo.Without(lo.Uniq(req.Members), viewer.UserID, "")
	if len(others) < model.MinParticipants {
		return nil, fmt.Errorf("%w: a group needs at least %d other members", common.ErrValidation, model.MinParticipants)
	}

	conv, err := s.store.CreateConversation(ctx, name, true, append([]string{viewer.UserID}, others...))
	if err != nil {
		return nil, err
	}
	s.announce(ctx, conv, "group")
	return conv, nil
}

func (s *ConversationService) announce(ctx context.Context, conv *model.Conversation, kind string) {
	metrics.ConversationsTotal.WithLabelValues(kind).Inc()
	s.notifyAll(ctx, userChannels(conv.Participants), channel.ConversationNew, conv)
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("kind", kind),
		zap.Int("participants", len(conv.Participants)),
	)
}

// List returns the viewer's conversations, newest activity first.
func (s *ConversationService) List(ctx context.Context, viewer model.Viewer) (*model.ListConversationsResponse, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}

	convs, err := s.store.ListConversationsFor(ctx, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	}, nil
}

// Get retrieves a conversation the viewer takes part in.
func (s *ConversationService) Get(ctx context.Context, conversationID string, viewer model.Viewer) (*model.Conversation, error) {
	if err := requireViewer(viewer); err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(conv, viewer); err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete removes a conversation and its messages. Any participant may
// delete; every participant receives conversation:remove.
func (s *ConversationService) Delete(ctx context.Context, conversationID string, viewer model.Viewer) (err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.Delete", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("viewer.id", viewer.UserID),
	))
	defer func() { finish(span, err) }()

	conv, err := s.Get(ctx, conversationID, viewer)
	if err != nil {
		return err
	}

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}

	s.notifyAll(ctx, userChannels(conv.Participants), channel.ConversationRemove, conv)
	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", viewer.UserID),
	)
	return nil
}

// Leave removes the viewer from a group conversation. Leaving would break
// the participant minimum for direct conversations and groups of two.
func (s *ConversationService) Leave(ctx context.Context, conversationID string, viewer model.Viewer) (conv *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.Leave", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("viewer.id", viewer.UserID),
	))
	defer func() { finish(span, err) }()

	before, err := s.Get(ctx, conversationID, viewer)
	if err != nil {
		return nil, err
	}

	conv, err = s.store.RemoveParticipant(ctx, conversationID, viewer.UserID)
	if err != nil {
		return nil, err
	}

	leaver, _ := lo.Find(before.Participants, func(u model.User) bool { return u.ID == viewer.UserID })
	s.notify(ctx, channel.User(leaver.Email), channel.ConversationRemove, before)
	s.notifyAll(ctx, userChannels(conv.Participants), channel.ConversationUpdate, conv)
	return conv, nil
}
