package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messenger/internal/bus/bustest"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/handler"
	"github.com/capitalize-ai/messenger/internal/middleware"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/service"
	"github.com/capitalize-ai/messenger/internal/store"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

type staticMembers []string

func (m staticMembers) Members(ctx context.Context) ([]string, error) {
	return m, nil
}

func TestHTTPAPI_RoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	const secret = "api-test-secret"

	gw := store.NewMemory()
	for _, name := range []string{"alice", "bob"} {
		_, err := gw.CreateUser(ctx, &model.User{ID: name, Email: name + "@example.com", Name: name})
		req.NoError(err)
	}
	conv, err := gw.CreateConversation(ctx, "", false, []string{"alice", "bob"})
	req.NoError(err)
	msg, err := gw.AppendMessage(ctx, conv.ID, "alice", "helo", "")
	req.NoError(err)

	log := logger.NewNop()
	pub := bustest.NewRecorder()
	srv := httptest.NewServer(handler.Router{
		Health:        handler.NewHealthHandler(),
		Conversations: handler.NewConversationHandler(service.NewConversationService(gw, pub, log), service.NewSeenCoordinator(gw, pub, log), log),
		Messages:      handler.NewMessageHandler(service.NewMessageAuthority(gw, pub, log), log),
		Users:         handler.NewUserHandler(service.NewUserService(gw), log),
		Presence:      handler.NewPresenceHandler(staticMembers{"bob@example.com"}, log),
		JWTSecret:     secret,
		Logger:        log,
	}.Handler())
	defer srv.Close()

	api := func(name string) *HTTPAPI {
		token, err := middleware.IssueToken(secret, model.Viewer{UserID: name, Email: name + "@example.com"}, jwt.RegisteredClaims{})
		req.NoError(err)
		a, err := NewHTTPAPI(srv.URL+"/api/v1", token, 5*time.Second)
		req.NoError(err)
		return a
	}
	alice, bob := api("alice"), api("bob")

	t.Run("should list and fetch conversations", func(t *testing.T) {
		req := require.New(t)
		convs, err := bob.ListConversations(ctx)
		req.NoError(err)
		req.Len(convs, 1)

		got, err := bob.GetConversation(ctx, conv.ID)
		req.NoError(err)
		req.Equal(msg.ID, got.Messages[len(got.Messages)-1].ID)
	})

	t.Run("should mark seen once", func(t *testing.T) {
		req := require.New(t)
		resp, err := bob.MarkSeen(ctx, conv.ID)
		req.NoError(err)
		req.True(resp.Broadcast)

		resp, err = bob.MarkSeen(ctx, conv.ID)
		req.NoError(err)
		req.False(resp.Broadcast)
	})

	t.Run("should map errors to the taxonomy", func(t *testing.T) {
		req := require.New(t)
		_, err := bob.EditMessage(ctx, msg.ID, "hijack")
		req.ErrorIs(err, common.ErrForbidden)

		_, err = bob.GetConversation(ctx, "missing")
		req.ErrorIs(err, common.ErrNotFound)

		anon, err := NewHTTPAPI(srv.URL+"/api/v1", "", time.Second)
		req.NoError(err)
		_, err = anon.ListConversations(ctx)
		req.ErrorIs(err, common.ErrUnauthorized)
	})

	t.Run("should edit own message", func(t *testing.T) {
		req := require.New(t)
		edited, err := alice.EditMessage(ctx, msg.ID, "hello")
		req.NoError(err)
		req.Equal("hello", edited.Body)
	})

	t.Run("should read presence", func(t *testing.T) {
		req := require.New(t)
		members, err := alice.Presence(ctx)
		req.NoError(err)
		req.Equal([]string{"bob@example.com"}, members)
	})

	t.Run("should report an unreachable server", func(t *testing.T) {
		req := require.New(t)
		dead, err := NewHTTPAPI("http://127.0.0.1:1/api/v1", "", 500*time.Millisecond)
		req.NoError(err)
		_, err = dead.ListConversations(ctx)
		req.ErrorIs(err, common.ErrTransportUnavailable)
	})
}
