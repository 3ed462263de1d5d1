package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/mocks"
	"github.com/capitalize-ai/messenger/internal/model"
)

func TestSeenCoordinator_MarkSeen(t *testing.T) {
	ctx := context.Background()

	t.Run("should broadcast message:update only on the first call", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "hello")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		resp, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)
		req.True(resp.Broadcast)
		req.Equal(m1.ID, resp.Message.ID)
		req.Equal([]string{"bob"}, seenIDs(*resp.Message))

		updates := f.bus.On(channel.Conversation(conv.ID), channel.MessageUpdate)
		req.Len(updates, 1)
		req.Equal([]string{"bob"}, seenIDs(decodeMessage(t, updates[0])))
		req.Len(f.bus.On(channel.User(f.email("bob")), channel.ConversationUpdate), 1)
		onConversation := len(f.bus.Events()) - 1

		resp, err = coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)
		req.False(resp.Broadcast)
		req.Equal([]string{"bob"}, seenIDs(*resp.Message))

		req.Len(f.bus.On(channel.Conversation(conv.ID), channel.MessageUpdate), 1)
		req.Len(f.bus.On(channel.User(f.email("bob")), channel.ConversationUpdate), 2)
		req.Equal(onConversation+2, len(f.bus.Events()))

		stored, err := f.store.GetMessage(ctx, m1.ID)
		req.NoError(err)
		req.Equal([]string{"bob"}, seenIDs(*stored))
	})

	t.Run("should carry the updated message on the viewer channel", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "hello")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		_, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)

		events := f.bus.On(channel.User(f.email("bob")), channel.ConversationUpdate)
		req.Len(events, 1)
		summary := decodeConversation(t, events[0])
		req.Equal(conv.ID, summary.ID)
		req.Len(summary.Messages, 1)
		req.Equal(m1.ID, summary.Messages[0].ID)
		req.True(summary.Messages[0].SeenByUser("bob"))

		// The viewer channel event precedes the broadcast.
		all := f.bus.Events()
		req.Equal(channel.ConversationUpdate, all[0].Event)
		req.Equal(channel.MessageUpdate, all[1].Event)
	})

	t.Run("should grow seenBy for two distinct viewers", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob", "carol")
		conv := f.conversation(t, true, "alice", "bob", "carol")
		f.message(t, conv.ID, "alice", "hello")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		_, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)
		_, err = coord.MarkSeen(ctx, conv.ID, f.viewer("carol"))
		req.NoError(err)

		updates := f.bus.On(channel.Conversation(conv.ID), channel.MessageUpdate)
		req.Len(updates, 2)
		req.Equal([]string{"bob"}, seenIDs(decodeMessage(t, updates[0])))
		req.ElementsMatch([]string{"bob", "carol"}, seenIDs(decodeMessage(t, updates[1])))
	})

	t.Run("should publish nothing for a conversation without messages", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		resp, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)
		req.Equal(conv.ID, resp.Conversation.ID)
		req.Nil(resp.Message)
		req.False(resp.Broadcast)
		req.Empty(f.bus.Events())
	})

	t.Run("should fail with not found for an unknown conversation", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		_, err := coord.MarkSeen(ctx, "missing", f.viewer("bob"))
		req.ErrorIs(err, common.ErrNotFound)
		req.Empty(f.bus.Events())
	})

	t.Run("should fail with unauthorized without a viewer", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		_, err := coord.MarkSeen(ctx, conv.ID, model.Viewer{})
		req.ErrorIs(err, common.ErrUnauthorized)
	})

	t.Run("should follow the newest message after a new one arrives", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		f.message(t, conv.ID, "alice", "one")
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		_, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)

		m2 := f.message(t, conv.ID, "alice", "two")
		resp, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)
		req.True(resp.Broadcast)
		req.Equal(m2.ID, resp.Message.ID)

		updates := f.bus.On(channel.Conversation(conv.ID), channel.MessageUpdate)
		req.Len(updates, 2)
		req.Equal(m2.ID, decodeMessage(t, updates[1]).ID)
	})

	t.Run("should keep the receipt when the bus is unavailable", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, "alice", "bob")
		conv := f.conversation(t, false, "alice", "bob")
		m1 := f.message(t, conv.ID, "alice", "hello")
		f.bus.FailWith(common.ErrTransportUnavailable)
		coord := NewSeenCoordinator(f.store, f.bus, nop())

		resp, err := coord.MarkSeen(ctx, conv.ID, f.viewer("bob"))
		req.NoError(err)
		req.True(resp.Broadcast)

		stored, err := f.store.GetMessage(ctx, m1.ID)
		req.NoError(err)
		req.True(stored.SeenByUser("bob"))
	})
}

func TestSeenCoordinator_MarkSeenConcurrent(t *testing.T) {
	ctx := context.Background()
	names := []string{"alice"}
	for i := 0; i < 12; i++ {
		names = append(names, fmt.Sprintf("viewer%02d", i))
	}
	f := newFixture(t, names...)
	conv := f.conversation(t, true, names...)
	m1 := f.message(t, conv.ID, "alice", "hello")
	coord := NewSeenCoordinator(f.store, f.bus, nop())

	const callsPerViewer = 4
	var wg sync.WaitGroup
	for _, name := range names[1:] {
		for i := 0; i < callsPerViewer; i++ {
			wg.Add(1)
			go func(v model.Viewer) {
				defer wg.Done()
				_, err := coord.MarkSeen(ctx, conv.ID, v)
				assert.NoError(t, err)
			}(f.viewer(name))
		}
	}
	wg.Wait()

	updates := f.bus.On(channel.Conversation(conv.ID), channel.MessageUpdate)
	require.Len(t, updates, len(names)-1)

	announced := map[string]int{}
	for _, env := range updates {
		announced[decodeMessage(t, env).ID]++
	}
	require.Equal(t, map[string]int{m1.ID: len(names) - 1}, announced)

	for _, name := range names[1:] {
		require.Len(t, f.bus.On(channel.User(f.email(name)), channel.ConversationUpdate), callsPerViewer)
	}

	stored, err := f.store.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, names[1:], seenIDs(*stored))
}

func TestSeenCoordinator_WithMockGateway(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	alice := model.User{ID: "alice", Email: "alice@example.com"}
	bob := model.User{ID: "bob", Email: "bob@example.com"}
	carol := model.Viewer{UserID: "carol", Email: "carol@example.com"}

	conv := &model.Conversation{
		ID:           "c1",
		Participants: []model.User{alice, bob},
		Messages:     []model.Message{{ID: "m1", ConversationID: "c1", Sender: alice, Body: "hi"}},
	}

	t.Run("should not touch the store for a non participant", func(t *testing.T) {
		req := require.New(t)
		gw := mocks.NewMockGateway(ctrl)
		rec := newFixture(t).bus
		coord := NewSeenCoordinator(gw, rec, nop())

		gw.EXPECT().GetConversation(gomock.Any(), "c1").Return(conv, nil).Times(1)
		gw.EXPECT().UpdateMessageSeen(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := coord.MarkSeen(ctx, "c1", carol)
		req.ErrorIs(err, common.ErrForbidden)
		req.Empty(rec.Events())
	})

	t.Run("should publish nothing when persistence fails", func(t *testing.T) {
		req := require.New(t)
		gw := mocks.NewMockGateway(ctrl)
		rec := newFixture(t).bus
		coord := NewSeenCoordinator(gw, rec, nop())
		diskErr := errors.New("disk full")

		gw.EXPECT().GetConversation(gomock.Any(), "c1").Return(conv, nil).Times(1)
		gw.EXPECT().UpdateMessageSeen(gomock.Any(), "m1", "bob").Return(nil, false, diskErr).Times(1)

		_, err := coord.MarkSeen(ctx, "c1", model.Viewer{UserID: "bob", Email: "bob@example.com"})
		req.ErrorIs(err, diskErr)
		req.Empty(rec.Events())
	})

	t.Run("should trust the store's already seen flag", func(t *testing.T) {
		req := require.New(t)
		gw := mocks.NewMockGateway(ctrl)
		rec := newFixture(t).bus
		coord := NewSeenCoordinator(gw, rec, nop())
		seen := conv.Messages[0]
		seen.SeenBy = []model.User{bob}

		gw.EXPECT().GetConversation(gomock.Any(), "c1").Return(conv, nil).Times(1)
		gw.EXPECT().UpdateMessageSeen(gomock.Any(), "m1", "bob").Return(&seen, true, nil).Times(1)

		resp, err := coord.MarkSeen(ctx, "c1", model.Viewer{UserID: "bob"})
		req.NoError(err)
		req.False(resp.Broadcast)
		req.Empty(rec.On("c1", channel.MessageUpdate))
		// The stored email addresses the viewer channel.
		req.Len(rec.On("bob@example.com", channel.ConversationUpdate), 1)
	})
}
