package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/capitalize-ai/messenger/internal/bus/bustest"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/mocks"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/store"
)

// storeProbe runs check against the store before recording each publish.
type storeProbe struct {
	*bustest.Recorder
	check func(event string)
}

func (p *storeProbe) Publish(ctx context.Context, ch, event string, payload any) error {
	p.check(event)
	return p.Recorder.Publish(ctx, ch, event, payload)
}

func TestMessageAuthority_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("should publish message:new and refresh every participant", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		msg, err := auth.Send(ctx, conv.ID, f.viewer("alice"), "hello", "")
		req.NoError(err)
		req.Equal("alice", msg.Sender.ID)
		req.Empty(msg.SeenBy)

		news := f.bus.On(channel.Conversation(conv.ID), channel.MessageNew)
		req.Len(news, 1)
		req.Equal(msg.ID, decodeMessage(t, news[0]).ID)

		for _, name := range []string{"alice", "bob"} {
			updates := f.bus.On(channel.User(f.email(name)), channel.ConversationUpdate)
			req.Len(updates, 1)
			summary := decodeConversation(t, updates[0])
			req.Equal(conv.ID, summary.ID)
			req.Equal(msg.ID, summary.Messages[0].ID)
		}
	})

	t.Run("should accept an image without a body", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		msg, err := auth.Send(ctx, conv.ID, f.viewer("bob"), "", "img/cat.png")
		req.NoError(err)
		req.True(msg.HasImage())
	})

	t.Run("should reject a non participant", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		conv := f.conversation(t, false, "alice", "bob")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		_, err := auth.Send(ctx, conv.ID, f.viewer("carol"), "hello", "")
		req.ErrorIs(err, common.ErrForbidden)
		req.Empty(f.bus.Events())
	})

	t.Run("should validate content before any store call", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		gw := mocks.NewMockGateway(ctrl)
		rec := bustest.NewRecorder()
		auth := NewMessageAuthority(gw, rec, nop())

		gw.EXPECT().GetConversation(gomock.Any(), gomock.Any()).Times(0)
		gw.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := auth.Send(ctx, "c1", model.Viewer{UserID: "alice"}, "   ", "")
		req.ErrorIs(err, common.ErrValidation)
		req.Empty(rec.Events())
	})
}

func TestMessageAuthority_Edit(t *testing.T) {
	ctx := context.Background()

	t.Run("should forbid a non sender and leave the body unchanged", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "original")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		_, err := auth.Edit(ctx, m1.ID, f.viewer("bob"), "hi")
		req.ErrorIs(err, common.ErrForbidden)

		stored, err := f.store.GetMessage(ctx, m1.ID)
		req.NoError(err)
		req.Equal("original", stored.Body)
		req.Nil(stored.EditedAt)
		req.Empty(f.bus.Events())
	})

	t.Run("should publish the full edited message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "original")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		msg, err := auth.Edit(ctx, m1.ID, f.viewer("alice"), "changed")
		req.NoError(err)
		req.Equal("changed", msg.Body)
		req.NotNil(msg.EditedAt)

		edits := f.bus.On(channel.Conversation(conv.ID), channel.MessageEdited)
		req.Len(edits, 1)
		published := decodeMessage(t, edits[0])
		req.Equal("changed", published.Body)
		req.Equal("alice", published.Sender.ID)

		// m1 is the last message, so summaries follow.
		req.Len(f.bus.On(channel.User(f.email("bob")), channel.ConversationUpdate), 1)
	})

	t.Run("should not refresh summaries when an older message is edited", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "first")
		f.message(t, conv.ID, "bob", "second")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		_, err := auth.Edit(ctx, m1.ID, f.viewer("alice"), "first!")
		req.NoError(err)
		req.Len(f.bus.On(channel.Conversation(conv.ID), channel.MessageEdited), 1)
		req.Empty(f.bus.On(channel.User(f.email("bob")), channel.ConversationUpdate))
	})

	t.Run("should reject edits of image messages and empty bodies", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		withImage, err := f.store.AppendMessage(ctx, conv.ID, "alice", "caption", "img/cat.png")
		req.NoError(err)
		plain := f.message(t, conv.ID, "alice", "text")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		_, err = auth.Edit(ctx, withImage.ID, f.viewer("alice"), "new caption")
		req.ErrorIs(err, common.ErrValidation)

		_, err = auth.Edit(ctx, plain.ID, f.viewer("alice"), " \t ")
		req.ErrorIs(err, common.ErrValidation)

		req.Empty(f.bus.Events())
	})

	t.Run("should report an unknown message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		_, err := auth.Edit(ctx, "missing", f.viewer("alice"), "x")
		req.ErrorIs(err, common.ErrNotFound)
	})

	t.Run("should never persist a forbidden edit", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		gw := mocks.NewMockGateway(ctrl)
		rec := bustest.NewRecorder()
		auth := NewMessageAuthority(gw, rec, nop())

		gw.EXPECT().GetMessage(gomock.Any(), "m1").
			Return(&model.Message{ID: "m1", ConversationID: "c1", Sender: model.User{ID: "alice"}, Body: "hey"}, nil).
			Times(1)
		gw.EXPECT().UpdateMessageBody(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := auth.Edit(ctx, "m1", model.Viewer{UserID: "bob"}, "hi")
		req.ErrorIs(err, common.ErrForbidden)
		req.Empty(rec.Events())
	})

	t.Run("should surface a persistence failure without publishing", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		gw := mocks.NewMockGateway(ctrl)
		rec := bustest.NewRecorder()
		auth := NewMessageAuthority(gw, rec, nop())
		diskErr := errors.New("disk full")

		gw.EXPECT().GetMessage(gomock.Any(), "m1").
			Return(&model.Message{ID: "m1", ConversationID: "c1", Sender: model.User{ID: "alice"}, Body: "hey"}, nil)
		gw.EXPECT().UpdateMessageBody(gomock.Any(), "m1", "hi").Return(nil, diskErr)

		_, err := auth.Edit(ctx, "m1", model.Viewer{UserID: "alice"}, "hi")
		req.ErrorIs(err, diskErr)
		req.Empty(rec.Events())
	})
}

func TestMessageAuthority_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("should remove the message and publish one message:deleted", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "one")
		m2 := f.message(t, conv.ID, "alice", "two")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		req.NoError(auth.Delete(ctx, m2.ID, f.viewer("alice")))

		after, err := f.store.GetConversation(ctx, conv.ID)
		req.NoError(err)
		req.Len(after.Messages, 1)
		req.Equal(m1.ID, after.Messages[0].ID)

		deleted := f.bus.On(channel.Conversation(conv.ID), channel.MessageDeleted)
		req.Len(deleted, 1)
		var payload model.MessageDeleted
		req.NoError(deleted[0].Decode(&payload))
		req.Equal(model.MessageDeleted{ID: m2.ID, ConversationID: conv.ID}, payload)

		// Summaries fall back to the previous message.
		for _, name := range []string{"alice", "bob"} {
			updates := f.bus.On(channel.User(f.email(name)), channel.ConversationUpdate)
			req.Len(updates, 1)
			summary := decodeConversation(t, updates[0])
			req.Len(summary.Messages, 1)
			req.Equal(m1.ID, summary.Messages[0].ID)
		}
		req.Equal(channel.MessageDeleted, f.bus.Events()[0].Event)
	})

	t.Run("should send an empty summary when the only message is deleted", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "only")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		req.NoError(auth.Delete(ctx, m1.ID, f.viewer("alice")))

		updates := f.bus.On(channel.User(f.email("bob")), channel.ConversationUpdate)
		req.Len(updates, 1)
		req.Empty(decodeConversation(t, updates[0]).Messages)
	})

	t.Run("should forbid a non sender", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "one")
		auth := NewMessageAuthority(f.store, f.bus, nop())

		err := auth.Delete(ctx, m1.ID, f.viewer("bob"))
		req.ErrorIs(err, common.ErrForbidden)

		_, err = f.store.GetMessage(ctx, m1.ID)
		req.NoError(err)
		req.Empty(f.bus.Events())
	})

	t.Run("should persist before publishing", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "one")

		probe := &storeProbe{Recorder: f.bus, check: func(event string) {
			_, err := f.store.GetMessage(ctx, m1.ID)
			req.ErrorIs(err, common.ErrNotFound, "event %s published before the delete persisted", event)
		}}
		auth := NewMessageAuthority(f.store, probe, nop())

		req.NoError(auth.Delete(ctx, m1.ID, f.viewer("alice")))
		req.Len(f.bus.Events(), 3)
	})
}

var _ store.Gateway = (*mocks.MockGateway)(nil)
