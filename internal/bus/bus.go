// Package bus defines the notification bus contracts. Delivery is
// at-most-once to currently subscribed handlers, with no ordering guarantee
// across channels.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the unit carried on a channel.
type Envelope struct {
	Channel     string          `json:"channel"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// NewEnvelope encodes payload into an envelope.
func NewEnvelope(channel, event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Envelope{
		Channel:     channel,
		Event:       event,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty %s payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Handler receives envelopes for a subscription.
type Handler func(Envelope)

// RequestHandler answers a request; the returned value is the reply payload.
type RequestHandler func(Envelope) (any, error)

// Subscription is an active registration on a channel.
type Subscription interface {
	Unsubscribe() error
}

// Publisher sends events to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Subscriber registers handlers on a channel.
type Subscriber interface {
	Subscribe(channel string, handler Handler) (Subscription, error)
}

// Requester performs a request/reply round trip.
type Requester interface {
	Request(ctx context.Context, channel, event string, payload, reply any) error
}

// Responder serves requests for one event on a channel.
type Responder interface {
	Respond(channel, event string, handler RequestHandler) (Subscription, error)
}

// Bus is the full transport surface.
type Bus interface {
	Publisher
	Subscriber
	Requester
	Responder
}
