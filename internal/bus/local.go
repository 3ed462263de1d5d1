package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/capitalize-ai/messenger/internal/common"
)

// Local is an in-process bus. Handlers run synchronously on the publishing
// goroutine, which makes it deterministic in tests and usable for a single
// node without a broker.
type Local struct {
	mu         sync.RWMutex
	subs       map[string]map[*localSub]struct{}
	responders map[string]RequestHandler
	down       bool
}

type localSub struct {
	bus     *Local
	channel string
	handler Handler
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{
		subs:       make(map[string]map[*localSub]struct{}),
		responders: make(map[string]RequestHandler),
	}
}

// SetDown simulates a transport outage.
func (b *Local) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Publish delivers the event to every current subscriber of channel.
func (b *Local) Publish(ctx context.Context, channel, event string, payload any) error {
	env, err := NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.down {
		b.mu.RUnlock()
		return fmt.Errorf("%w: local bus is down", common.ErrTransportUnavailable)
	}
	handlers := make([]Handler, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

// Subscribe registers handler on channel.
func (b *Local) Subscribe(channel string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return nil, fmt.Errorf("%w: local bus is down", common.ErrTransportUnavailable)
	}
	s := &localSub{bus: b, channel: channel, handler: handler}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*localSub]struct{})
	}
	b.subs[channel][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of subscriptions on channel.
func (b *Local) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Respond registers a request handler for event on channel.
func (b *Local) Respond(channel, event string, handler RequestHandler) (Subscription, error) {
	key := responderKey(channel, event)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[key] = handler
	return &localResponder{bus: b, key: key}, nil
}

// Request calls the responder for event on channel and decodes its reply.
func (b *Local) Request(ctx context.Context, channel, event string, payload, reply any) error {
	env, err := NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	handler, ok := b.responders[responderKey(channel, event)]
	down := b.down
	b.mu.RUnlock()

	if down || !ok {
		return fmt.Errorf("%w: no responder for %s on %s", common.ErrTransportUnavailable, event, channel)
	}

	out, err := handler(env)
	if err != nil {
		return err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	if reply == nil {
		return nil
	}
	return json.Unmarshal(data, reply)
}

func (s *localSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.channel], s)
	if len(s.bus.subs[s.channel]) == 0 {
		delete(s.bus.subs, s.channel)
	}
	return nil
}

type localResponder struct {
	bus *Local
	key string
}

func (r *localResponder) Unsubscribe() error {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	delete(r.bus.responders, r.key)
	return nil
}

func responderKey(channel, event string) string {
	return channel + "\x00" + event
}
