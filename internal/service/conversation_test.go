package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
)

func TestConversationService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("should announce a new direct conversation to both users", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		svc := NewConversationService(f.store, f.bus, nop())

		conv, err := svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{UserID: "bob"})
		req.NoError(err)
		req.False(conv.IsGroup)
		req.Len(conv.Participants, 2)

		for _, name := range []string{"alice", "bob"} {
			news := f.bus.On(channel.User(f.email(name)), channel.ConversationNew)
			req.Len(news, 1)
			req.Equal(conv.ID, decodeConversation(t, news[0]).ID)
		}
	})

	t.Run("should reuse an existing direct conversation", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		svc := NewConversationService(f.store, f.bus, nop())

		first, err := svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{UserID: "bob"})
		req.NoError(err)
		f.bus.Reset()

		second, err := svc.Create(ctx, f.viewer("bob"), &model.CreateConversationRequest{UserID: "alice"})
		req.NoError(err)
		req.Equal(first.ID, second.ID)
		req.Empty(f.bus.Events())
	})

	t.Run("should reject a conversation with oneself", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice")
		svc := NewConversationService(f.store, f.bus, nop())

		_, err := svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{UserID: "alice"})
		req.ErrorIs(err, common.ErrConflict)
		req.Empty(f.bus.Events())
	})

	t.Run("should report an unknown peer", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice")
		svc := NewConversationService(f.store, f.bus, nop())

		_, err := svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{UserID: "ghost"})
		req.ErrorIs(err, common.ErrNotFound)
	})

	t.Run("should create a named group including the creator", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		svc := NewConversationService(f.store, f.bus, nop())

		conv, err := svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{
			IsGroup: true,
			Name:    "  weekend  ",
			Members: []string{"bob", "carol", "bob"},
		})
		req.NoError(err)
		req.True(conv.IsGroup)
		req.Equal("weekend", conv.Name)
		req.Len(conv.Participants, 3)
		req.True(conv.HasParticipant("alice"))
		req.Len(f.bus.On(channel.User(f.email("carol")), channel.ConversationNew), 1)
	})

	t.Run("should validate group name and size", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		svc := NewConversationService(f.store, f.bus, nop())

		_, err := svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{
			IsGroup: true,
			Members: []string{"bob", "carol"},
		})
		req.ErrorIs(err, common.ErrValidation)

		_, err = svc.Create(ctx, f.viewer("alice"), &model.CreateConversationRequest{
			IsGroup: true,
			Name:    "pair",
			Members: []string{"bob", "alice"},
		})
		req.ErrorIs(err, common.ErrValidation)
		req.Empty(f.bus.Events())
	})
}

func TestConversationService_ListAndGet(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, "alice", "bob", "carol")
	svc := NewConversationService(f.store, f.bus, nop())

	withBob := f.conversation(t, false, "alice", "bob")
	withCarol := f.conversation(t, false, "alice", "carol")
	f.message(t, withBob.ID, "bob", "ping")

	list, err := svc.List(ctx, f.viewer("alice"))
	req.NoError(err)
	req.Equal(2, list.Total)
	req.Equal(withBob.ID, list.Conversations[0].ID)
	req.Equal(withCarol.ID, list.Conversations[1].ID)

	empty, err := svc.List(ctx, model.Viewer{UserID: "nobody"})
	req.NoError(err)
	req.NotNil(empty.Conversations)
	req.Zero(empty.Total)

	_, err = svc.Get(ctx, withBob.ID, f.viewer("carol"))
	req.ErrorIs(err, common.ErrForbidden)

	got, err := svc.Get(ctx, withBob.ID, f.viewer("bob"))
	req.NoError(err)
	req.Len(got.Messages, 1)

	_, err = svc.List(ctx, model.Viewer{})
	req.ErrorIs(err, common.ErrUnauthorized)
}

func TestConversationService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("should cascade and notify every participant", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		conv := f.conversation(t, true, "alice", "bob", "carol")
		m1 := f.message(t, conv.ID, "bob", "hello")
		svc := NewConversationService(f.store, f.bus, nop())

		req.NoError(svc.Delete(ctx, conv.ID, f.viewer("carol")))

		_, err := f.store.GetConversation(ctx, conv.ID)
		req.ErrorIs(err, common.ErrNotFound)
		_, err = f.store.GetMessage(ctx, m1.ID)
		req.ErrorIs(err, common.ErrNotFound)

		for _, name := range []string{"alice", "bob", "carol"} {
			removed := f.bus.On(channel.User(f.email(name)), channel.ConversationRemove)
			req.Len(removed, 1)
			req.Equal(conv.ID, decodeConversation(t, removed[0]).ID)
		}
	})

	t.Run("should forbid outsiders", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		conv := f.conversation(t, false, "alice", "bob")
		svc := NewConversationService(f.store, f.bus, nop())

		req.ErrorIs(svc.Delete(ctx, conv.ID, f.viewer("carol")), common.ErrForbidden)
		_, err := f.store.GetConversation(ctx, conv.ID)
		req.NoError(err)
		req.Empty(f.bus.Events())
	})
}

func TestConversationService_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("should remove the leaver and update the rest", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		conv := f.conversation(t, true, "alice", "bob", "carol")
		svc := NewConversationService(f.store, f.bus, nop())

		after, err := svc.Leave(ctx, conv.ID, f.viewer("carol"))
		req.NoError(err)
		req.Len(after.Participants, 2)
		req.False(after.HasParticipant("carol"))

		req.Len(f.bus.On(channel.User(f.email("carol")), channel.ConversationRemove), 1)
		req.Empty(f.bus.On(channel.User(f.email("carol")), channel.ConversationUpdate))
		for _, name := range []string{"alice", "bob"} {
			updates := f.bus.On(channel.User(f.email(name)), channel.ConversationUpdate)
			req.Len(updates, 1)
			req.Len(decodeConversation(t, updates[0]).Participants, 2)
		}
	})

	t.Run("should refuse to shrink below two participants", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		direct := f.conversation(t, false, "alice", "bob")
		pair := f.conversation(t, true, "alice", "bob")
		svc := NewConversationService(f.store, f.bus, nop())

		_, err := svc.Leave(ctx, direct.ID, f.viewer("bob"))
		req.ErrorIs(err, common.ErrConflict)
		_, err = svc.Leave(ctx, pair.ID, f.viewer("bob"))
		req.ErrorIs(err, common.ErrConflict)
		req.Empty(f.bus.Events())
	})
}
