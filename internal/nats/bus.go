package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/pkg/metrics"
)

const (
	// SubjectPrefix is the prefix for all messenger subjects.
	SubjectPrefix = "chat"
)

// ChannelSubject returns the subject carrying broadcast events for a channel.
// Channel names are emails and ids, so they are encoded into a single token.
func ChannelSubject(channel string) string {
	return fmt.Sprintf("%s.ch.%s", SubjectPrefix, token(channel))
}

// RequestSubject returns the subject serving request/reply for one event.
func RequestSubject(channel, event string) string {
	return fmt.Sprintf("%s.rpc.%s.%s", SubjectPrefix, token(channel), token(event))
}

func token(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// Bus is a bus.Bus on NATS core pub/sub. It never persists or replays.
type Bus struct {
	client *Client
}

// NewBus creates a bus on an established client.
func NewBus(client *Client) *Bus {
	return &Bus{client: client}
}

var _ bus.Bus = (*Bus)(nil)

// Publish sends one event to a channel.
func (b *Bus) Publish(ctx context.Context, channel, event string, payload any) error {
	if !b.client.IsConnected() {
		metrics.RecordPublish(event, "unavailable")
		return fmt.Errorf("%w: NATS not connected", common.ErrTransportUnavailable)
	}

	env, err := bus.NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Conn().Publish(ChannelSubject(channel), data); err != nil {
		metrics.RecordPublish(event, "error")
		return fmt.Errorf("%w: failed to publish %s: %v", common.ErrTransportUnavailable, event, err)
	}

	metrics.RecordPublish(event, "ok")
	return nil
}

// Subscribe registers handler for every event on channel. Envelopes that
// fail to decode are logged and dropped.
func (b *Bus) Subscribe(channel string, handler bus.Handler) (bus.Subscription, error) {
	sub, err := b.client.Conn().Subscribe(ChannelSubject(channel), func(m *nats.Msg) {
		var env bus.Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			b.client.logger.Warn("dropping malformed envelope",
				zap.String("subject", m.Subject),
				zap.Error(err),
			)
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to subscribe to %s: %v", common.ErrTransportUnavailable, channel, err)
	}
	return sub, nil
}

type rpcReply struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Respond serves request/reply for event on channel.
func (b *Bus) Respond(channel, event string, handler bus.RequestHandler) (bus.Subscription, error) {
	sub, err := b.client.Conn().Subscribe(RequestSubject(channel, event), func(m *nats.Msg) {
		var reply rpcReply

		var env bus.Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			reply.Error = "malformed request"
		} else if out, err := handler(env); err != nil {
			reply.Error = err.Error()
		} else if reply.Payload, err = json.Marshal(out); err != nil {
			reply.Error = "failed to encode reply"
		}

		data, _ := json.Marshal(reply)
		if err := m.Respond(data); err != nil {
			b.client.logger.Warn("failed to respond", zap.String("event", event), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serve %s: %v", common.ErrTransportUnavailable, event, err)
	}
	return sub, nil
}

// Request performs one round trip and decodes the reply payload into reply.
func (b *Bus) Request(ctx context.Context, channel, event string, payload, reply any) error {
	env, err := bus.NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg, err := b.client.Conn().RequestWithContext(ctx, RequestSubject(channel, event), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrConnectionClosed) {
			return fmt.Errorf("%w: %v", common.ErrTransportUnavailable, err)
		}
		return fmt.Errorf("request %s failed: %w", event, err)
	}

	var out rpcReply
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("request %s failed: %s", event, out.Error)
	}
	if reply == nil || len(out.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(out.Payload, reply)
}
