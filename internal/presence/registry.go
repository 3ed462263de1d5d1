package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/pkg/logger"
	"github.com/capitalize-ai/messenger/pkg/metrics"
)

// RegistryTransport is the bus surface the registry needs.
type RegistryTransport interface {
	bus.Publisher
	bus.Subscriber
	bus.Responder
}

// Registry is the server side of presence. It turns client heartbeats into
// join and leave deltas and answers snapshot requests. A member whose last
// heartbeat is older than the TTL is treated as disconnected.
type Registry struct {
	transport RegistryTransport
	members   MemberStore
	ttl       time.Duration
	logger    *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	subs    []bus.Subscription
	started bool
}

// storeTimeout bounds each member store call made from a bus handler.
const storeTimeout = 2 * time.Second

// NewRegistry creates a registry. Call Start or Run to begin serving.
func NewRegistry(transport RegistryTransport, members MemberStore, ttl time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		transport: transport,
		members:   members,
		ttl:       ttl,
		logger:    log.Named("presence"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Start subscribes to the presence channel and serves snapshots.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("presence registry already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	sub, err := r.transport.Subscribe(channel.Presence, r.handle)
	if err != nil {
		r.cancel()
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	snap, err := r.transport.Respond(channel.Presence, channel.PresenceSnapshot, r.snapshot)
	if err != nil {
		_ = sub.Unsubscribe()
		r.cancel()
		return fmt.Errorf("failed to serve presence snapshots: %w", err)
	}

	r.subs = []bus.Subscription{sub, snap}
	r.started = true
	r.logger.Info("presence registry started", zap.Duration("ttl", r.ttl))
	return nil
}

// Run starts the registry and sweeps expired members every ttl/2 until ctx
// is done.
func (r *Registry) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Stop()

	interval := r.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Warn("presence sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop drops the registry's subscriptions.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	for _, s := range r.subs {
		if err := s.Unsubscribe(); err != nil {
			r.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	r.subs = nil
	r.cancel()
	r.started = false
}

// Sweep removes members whose heartbeat is older than the TTL and publishes
// one leave delta for them.
func (r *Registry) Sweep(ctx context.Context) error {
	expired, err := r.members.Expire(ctx, r.now().Add(-r.ttl))
	if len(expired) > 0 {
		r.logger.Debug("presence expired", zap.Strings("keys", expired))
		r.publish(ctx, channel.PresenceLeave, model.PresenceDelta{Left: expired})
		metrics.PresenceActive.Sub(float64(len(expired)))
	}
	return err
}

func (r *Registry) handle(env bus.Envelope) {
	switch env.Event {
	case channel.PresenceHeartbeat, channel.PresenceBye:
	default:
		return
	}

	var ann model.PresenceAnnounce
	if err := env.Decode(&ann); err != nil || ann.Key == "" {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("dropping presence announcement", zap.String("event", env.Event), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.context(), storeTimeout)
	defer cancel()

	if env.Event == channel.PresenceBye {
		r.leave(ctx, ann.Key)
		return
	}
	r.heartbeat(ctx, ann.Key)
}

func (r *Registry) heartbeat(ctx context.Context, key string) {
	added, err := r.members.Touch(ctx, key, r.now())
	if err != nil {
		r.logger.Error("failed to record heartbeat", zap.String("key", key), zap.Error(err))
		return
	}
	if added {
		r.publish(ctx, channel.PresenceJoin, model.PresenceDelta{Joined: []string{key}})
		metrics.PresenceActive.Inc()
	}
}

func (r *Registry) leave(ctx context.Context, key string) {
	removed, err := r.members.Remove(ctx, key)
	if err != nil {
		r.logger.Error("failed to remove member", zap.String("key", key), zap.Error(err))
		return
	}
	if removed {
		r.publish(ctx, channel.PresenceLeave, model.PresenceDelta{Left: []string{key}})
		metrics.PresenceActive.Dec()
	}
}

func (r *Registry) snapshot(env bus.Envelope) (any, error) {
	ctx, cancel := context.WithTimeout(r.context(), storeTimeout)
	defer cancel()

	// Stamped before listing so any delta published after the listing is
	// newer than the snapshot.
	at := r.now()
	members, err := r.members.List(ctx)
	if err != nil {
		return nil, err
	}
	return model.PresenceSnapshot{Members: members, At: at}, nil
}

// Members returns the current members.
func (r *Registry) Members(ctx context.Context) ([]string, error) {
	return r.members.List(ctx)
}

func (r *Registry) publish(ctx context.Context, event string, delta model.PresenceDelta) {
	if err := r.transport.Publish(ctx, channel.Presence, event, delta); err != nil {
		r.logger.Warn("presence delta not delivered", zap.String("event", event), zap.Error(err))
	}
}

func (r *Registry) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}
