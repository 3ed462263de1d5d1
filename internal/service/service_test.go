package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/bus/bustest"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/store"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

type fixture struct {
	store *store.Memory
	bus   *bustest.Recorder
	users map[string]*model.User
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int64
	s := store.NewMemory().WithClock(func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	})

	f := &fixture{store: s, bus: bustest.NewRecorder(), users: map[string]*model.User{}}
	for _, name := range names {
		u, err := s.CreateUser(context.Background(), &model.User{ID: name, Email: name + "@example.com", Name: name})
		require.NoError(t, err)
		f.users[name] = u
	}
	return f
}

func (f *fixture) viewer(name string) model.Viewer {
	u := f.users[name]
	return model.Viewer{UserID: u.ID, Email: u.Email, Name: u.Name}
}

func (f *fixture) conversation(t *testing.T, group bool, names ...string) *model.Conversation {
	t.Helper()
	conv, err := f.store.CreateConversation(context.Background(), "team", group, names)
	require.NoError(t, err)
	return conv
}

func (f *fixture) message(t *testing.T, conversationID, sender, body string) *model.Message {
	t.Helper()
	msg, err := f.store.AppendMessage(context.Background(), conversationID, sender, body, "")
	require.NoError(t, err)
	return msg
}

func (f *fixture) email(name string) string {
	return f.users[name].Email
}

func nop() *logger.Logger {
	return logger.NewNop()
}

func decodeMessage(t *testing.T, env bus.Envelope) model.Message {
	t.Helper()
	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	return msg
}

func decodeConversation(t *testing.T, env bus.Envelope) model.Conversation {
	t.Helper()
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(env.Payload, &conv))
	return conv
}

func seenIDs(msg model.Message) []string {
	out := make([]string, 0, len(msg.SeenBy))
	for _, u := range msg.SeenBy {
		out = append(out, u.ID)
	}
	return out
}
