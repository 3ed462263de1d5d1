package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
)

func steppingClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var n int64
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

func seedUsers(t *testing.T, s Gateway, names ...string) map[string]*model.User {
	t.Helper()
	out := make(map[string]*model.User, len(names))
	for _, name := range names {
		u, err := s.CreateUser(context.Background(), &model.User{
			ID:    name,
			Email: name + "@example.com",
			Name:  name,
		})
		require.NoError(t, err)
		out[name] = u
	}
	return out
}

func TestMemory_ConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory().WithClock(steppingClock())
	seedUsers(t, s, "alice", "bob", "carol")

	conv, err := s.CreateConversation(ctx, "", false, []string{"alice", "bob"})
	require.NoError(t, err)
	require.False(t, conv.IsGroup)
	require.Len(t, conv.Participants, 2)
	require.Empty(t, conv.Messages)

	found, err := s.FindDirectConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, conv.ID, found.ID)

	_, err = s.FindDirectConversation(ctx, "alice", "carol")
	require.ErrorIs(t, err, common.ErrNotFound)

	m1, err := s.AppendMessage(ctx, conv.ID, "alice", "hello", "")
	require.NoError(t, err)
	require.Equal(t, "alice", m1.Sender.ID)
	require.Empty(t, m1.SeenBy)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, m1.CreatedAt, got.LastMessageAt)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	_, err = s.GetConversation(ctx, conv.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = s.GetMessage(ctx, m1.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemory_CreateConversationInvariants(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedUsers(t, s, "alice", "bob", "carol")

	_, err := s.CreateConversation(ctx, "", false, []string{"alice", "alice"})
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = s.CreateConversation(ctx, "", false, []string{"alice", "bob", "carol"})
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = s.CreateConversation(ctx, "solo", true, []string{"alice"})
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = s.CreateConversation(ctx, "", false, []string{"alice", "dave"})
	require.ErrorIs(t, err, common.ErrNotFound)

	group, err := s.CreateConversation(ctx, "team", true, []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	require.Equal(t, "team", group.Name)
}

func TestMemory_RemoveParticipant(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedUsers(t, s, "alice", "bob", "carol")

	direct, err := s.CreateConversation(ctx, "", false, []string{"alice", "bob"})
	require.NoError(t, err)
	_, err = s.RemoveParticipant(ctx, direct.ID, "bob")
	require.ErrorIs(t, err, common.ErrConflict)

	group, err := s.CreateConversation(ctx, "team", true, []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	updated, err := s.RemoveParticipant(ctx, group.ID, "carol")
	require.NoError(t, err)
	require.Len(t, updated.Participants, 2)

	_, err = s.RemoveParticipant(ctx, group.ID, "bob")
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestMemory_UpdateMessageSeen(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedUsers(t, s, "alice", "bob")

	conv, err := s.CreateConversation(ctx, "", false, []string{"alice", "bob"})
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, conv.ID, "alice", "hi", "")
	require.NoError(t, err)

	updated, already, err := s.UpdateMessageSeen(ctx, m.ID, "bob")
	require.NoError(t, err)
	require.False(t, already)
	require.True(t, updated.SeenByUser("bob"))

	updated, already, err = s.UpdateMessageSeen(ctx, m.ID, "bob")
	require.NoError(t, err)
	require.True(t, already)
	require.Len(t, updated.SeenBy, 1)

	_, _, err = s.UpdateMessageSeen(ctx, "missing", "bob")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemory_UpdateMessageSeen_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	viewers := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		viewers = append(viewers, fmt.Sprintf("viewer-%02d", i))
	}
	seedUsers(t, s, append([]string{"alice"}, viewers...)...)

	conv, err := s.CreateConversation(ctx, "all", true, append([]string{"alice"}, viewers...))
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, conv.ID, "alice", "hi all", "")
	require.NoError(t, err)

	// Every viewer marks seen five times concurrently; exactly one call per
	// viewer may observe alreadySeen == false.
	firsts := make(map[string]*int32, len(viewers))
	for _, v := range viewers {
		firsts[v] = new(int32)
	}

	var wg sync.WaitGroup
	for _, v := range viewers {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(viewer string) {
				defer wg.Done()
				_, already, err := s.UpdateMessageSeen(ctx, m.ID, viewer)
				assert.NoError(t, err)
				if !already {
					atomic.AddInt32(firsts[viewer], 1)
				}
			}(v)
		}
	}
	wg.Wait()

	for _, v := range viewers {
		require.EqualValues(t, 1, atomic.LoadInt32(firsts[v]), v)
	}

	final, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, final.SeenBy, len(viewers))
}

func TestMemory_UpdateAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory().WithClock(steppingClock())
	seedUsers(t, s, "alice", "bob")

	conv, err := s.CreateConversation(ctx, "", false, []string{"alice", "bob"})
	require.NoError(t, err)
	m1, err := s.AppendMessage(ctx, conv.ID, "alice", "first", "")
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, conv.ID, "bob", "second", "")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, conv.ID, "bob", "  ", "")
	require.ErrorIs(t, err, common.ErrValidation)

	edited, err := s.UpdateMessageBody(ctx, m1.ID, "first!")
	require.NoError(t, err)
	require.Equal(t, "first!", edited.Body)
	require.NotNil(t, edited.EditedAt)

	require.NoError(t, s.DeleteMessage(ctx, m2.ID))
	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, m1.ID, got.LastMessage().ID)
	require.Equal(t, m1.CreatedAt, got.LastMessageAt)

	require.ErrorIs(t, s.DeleteMessage(ctx, m2.ID), common.ErrNotFound)
}

func TestMemory_ListConversationsFor(t *testing.T) {
	ctx := context.Background()
	s := NewMemory().WithClock(steppingClock())
	seedUsers(t, s, "alice", "bob", "carol")

	older, err := s.CreateConversation(ctx, "", false, []string{"alice", "bob"})
	require.NoError(t, err)
	newer, err := s.CreateConversation(ctx, "", false, []string{"alice", "carol"})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "", false, []string{"bob", "carol"})
	require.NoError(t, err)

	list, err := s.ListConversationsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID)

	_, err = s.AppendMessage(ctx, older.ID, "bob", "ping", "")
	require.NoError(t, err)

	list, err = s.ListConversationsFor(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, older.ID, list[0].ID)
}

func TestMemory_Users(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedUsers(t, s, "alice")

	_, err := s.CreateUser(ctx, &model.User{Email: "alice@example.com"})
	require.ErrorIs(t, err, common.ErrConflict)

	u, err := s.UpdateUser(ctx, "alice", "Alice A.", "")
	require.NoError(t, err)
	require.Equal(t, "Alice A.", u.Name)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	_, err = s.GetUser(ctx, "nobody")
	require.ErrorIs(t, err, common.ErrNotFound)
}
