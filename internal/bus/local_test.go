package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messenger/internal/common"
)

func TestLocal_PublishSubscribe(t *testing.T) {
	b := NewLocal()
	ctx := context.Background()

	var got []Envelope
	sub, err := b.Subscribe("alice@example.com", func(env Envelope) {
		got = append(got, env)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "alice@example.com", "conversation:new", map[string]string{"id": "c1"}))
	require.NoError(t, b.Publish(ctx, "bob@example.com", "conversation:new", map[string]string{"id": "c2"}))

	require.Len(t, got, 1)
	require.Equal(t, "conversation:new", got[0].Event)

	var payload map[string]string
	require.NoError(t, got[0].Decode(&payload))
	require.Equal(t, "c1", payload["id"])

	require.NoError(t, sub.Unsubscribe())
	require.Equal(t, 0, b.Subscribers("alice@example.com"))

	require.NoError(t, b.Publish(ctx, "alice@example.com", "conversation:new", map[string]string{"id": "c3"}))
	require.Len(t, got, 1)
}

func TestLocal_Down(t *testing.T) {
	b := NewLocal()
	b.SetDown(true)

	err := b.Publish(context.Background(), "c1", "message:new", struct{}{})
	require.ErrorIs(t, err, common.ErrTransportUnavailable)

	_, err = b.Subscribe("c1", func(Envelope) {})
	require.ErrorIs(t, err, common.ErrTransportUnavailable)
}

func TestLocal_RequestReply(t *testing.T) {
	b := NewLocal()
	ctx := context.Background()

	var reply struct{ Members []string }
	err := b.Request(ctx, "presence", "snapshot", nil, &reply)
	require.ErrorIs(t, err, common.ErrTransportUnavailable)

	_, err = b.Respond("presence", "snapshot", func(Envelope) (any, error) {
		return map[string][]string{"Members": {"alice@example.com"}}, nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Request(ctx, "presence", "snapshot", nil, &reply))
	require.Equal(t, []string{"alice@example.com"}, reply.Members)
}

func TestEnvelope_DecodeEmpty(t *testing.T) {
	var v map[string]any
	require.Error(t, Envelope{Event: "x"}.Decode(&v))
	require.Error(t, Envelope{Event: "x", Payload: []byte("{not json")}.Decode(&v))
}
