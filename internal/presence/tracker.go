package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/pkg/logger"
	"github.com/capitalize-ai/messenger/pkg/metrics"
)

// Transport is the bus surface the tracker needs.
type Transport interface {
	bus.Publisher
	bus.Subscriber
	bus.Requester
}

const (
	// DefaultHeartbeat is used when no heartbeat interval is configured.
	DefaultHeartbeat = 10 * time.Second

	deltaBuffer = 64
)

// Tracker is the client side of presence. It keeps the local view of who
// is online and announces its own key while subscribed. While the transport
// is disconnected the view is empty and IsActive is false for everyone.
type Tracker struct {
	transport Transport
	key       string
	heartbeat time.Duration
	logger    *logger.Logger

	// lifecycle serializes Subscribe, Unsubscribe and Reconnected. It is
	// never held by bus handlers.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	set      *Set
	live     bool
	pending  []pendingDelta
	joining  bool
	out      chan model.PresenceDelta
	sub      bus.Subscription
	stopBeat context.CancelFunc
	beatDone chan struct{}
}

// pendingDelta is a delta received while the snapshot request is in flight.
type pendingDelta struct {
	delta model.PresenceDelta
	at    time.Time
}

// NewTracker creates a tracker announcing key every heartbeat.
func NewTracker(transport Transport, key string, heartbeat time.Duration, log *logger.Logger) *Tracker {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Tracker{
		transport: transport,
		key:       key,
		heartbeat: heartbeat,
		logger:    log.Named("presence").With(zap.String("presence_key", key)),
		set:       NewSet(),
	}
}

// Key returns the key this tracker announces.
func (t *Tracker) Key() string {
	return t.key
}

// Subscribe joins the presence channel, loads the current members and
// starts announcing the local key. The returned channel yields membership
// deltas until Unsubscribe. The first delta carries the initial members.
func (t *Tracker) Subscribe(ctx context.Context) (<-chan model.PresenceDelta, error) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if t.out != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: presence already subscribed", common.ErrConflict)
	}
	out := make(chan model.PresenceDelta, deltaBuffer)
	t.out = out
	t.mu.Unlock()

	if err := t.join(ctx); err != nil {
		t.mu.Lock()
		close(t.out)
		t.out = nil
		t.mu.Unlock()
		return nil, err
	}
	return out, nil
}

// Unsubscribe announces departure, drops the subscription and closes the
// delta channel.
func (t *Tracker) Unsubscribe(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	err := t.leave(ctx, true)

	t.mu.Lock()
	if t.out != nil {
		close(t.out)
		t.out = nil
	}
	t.mu.Unlock()
	return err
}

// Disconnected clears the local view after a transport failure.
func (t *Tracker) Disconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.live {
		return
	}
	t.live = false
	if left := t.set.Clear(); len(left) > 0 {
		t.emitLocked(model.PresenceDelta{Left: left})
	}
	t.logger.Warn("presence view cleared after disconnect")
}

// Reconnected rebuilds the view from a fresh snapshot. It does nothing when
// the tracker is not subscribed.
func (t *Tracker) Reconnected(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.RLock()
	subscribed := t.out != nil
	t.mu.RUnlock()
	if !subscribed {
		return nil
	}

	_ = t.leave(ctx, false)
	if err := t.join(ctx); err != nil {
		return fmt.Errorf("failed to rejoin presence: %w", err)
	}
	t.logger.Info("presence view rebuilt")
	return nil
}

// IsActive reports whether key is online. It is false for everyone while
// the view is not live.
func (t *Tracker) IsActive(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live && t.set.Has(key)
}

// ActiveSet returns the online keys in sorted order.
func (t *Tracker) ActiveSet() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.live {
		return []string{}
	}
	return t.set.Members()
}

// Live reports whether the view reflects a connected subscription.
func (t *Tracker) Live() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

func (t *Tracker) join(ctx context.Context) error {
	t.mu.Lock()
	t.joining = true
	t.pending = nil
	t.mu.Unlock()

	sub, err := t.transport.Subscribe(channel.Presence, t.handle)
	if err != nil {
		t.abortJoin()
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()

	// Deltas that arrive before the snapshot are held and replayed on top
	// of it when they were published after the snapshot was taken.
	var snap model.PresenceSnapshot
	if err := t.transport.Request(ctx, channel.Presence, channel.PresenceSnapshot, t.announcement(), &snap); err != nil {
		t.mu.Lock()
		t.sub = nil
		t.mu.Unlock()
		t.abortJoin()
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to load presence snapshot: %w", err)
	}

	t.mu.Lock()
	view := NewSet()
	view.Apply(model.PresenceDelta{Joined: snap.Members})
	for _, p := range t.pending {
		if p.at.After(snap.At) {
			view.Apply(p.delta)
		}
	}
	t.pending = nil
	t.joining = false

	d := t.set.Reset(view.Members())
	t.live = true
	if len(d.Joined) > 0 || len(d.Left) > 0 {
		t.emitLocked(d)
	}
	t.mu.Unlock()

	t.startHeartbeat()
	return nil
}

func (t *Tracker) abortJoin() {
	t.mu.Lock()
	t.joining = false
	t.pending = nil
	t.mu.Unlock()
}

func (t *Tracker) leave(ctx context.Context, bye bool) error {
	t.stopHeartbeat()

	if bye {
		if err := t.transport.Publish(ctx, channel.Presence, channel.PresenceBye, t.announcement()); err != nil {
			t.logger.Debug("presence bye not delivered", zap.Error(err))
		}
	}

	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.live = false
	if left := t.set.Clear(); len(left) > 0 {
		t.emitLocked(model.PresenceDelta{Left: left})
	}
	t.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from presence: %w", err)
	}
	return nil
}

func (t *Tracker) handle(env bus.Envelope) {
	switch env.Event {
	case channel.PresenceJoin, channel.PresenceLeave:
	default:
		return
	}

	var d model.PresenceDelta
	if err := env.Decode(&d); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		t.logger.Warn("dropping presence delta", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if env.Event == channel.PresenceJoin {
		d.Left = nil
	} else {
		d.Joined = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		if t.joining {
			t.pending = append(t.pending, pendingDelta{delta: d, at: env.PublishedAt})
		}
		return
	}
	t.set.Apply(d)
	t.emitLocked(d)
}

// emitLocked hands a delta to the consumer without blocking the bus.
func (t *Tracker) emitLocked(d model.PresenceDelta) {
	if t.out == nil {
		return
	}
	select {
	case t.out <- d:
	default:
		metrics.EventsDropped.WithLabelValues("presence_backlog").Inc()
		t.logger.Warn("presence consumer is behind, delta dropped")
	}
}

func (t *Tracker) startHeartbeat() {
	t.beat()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.stopBeat = cancel
	t.beatDone = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.beat()
			}
		}
	}()
}

func (t *Tracker) stopHeartbeat() {
	t.mu.Lock()
	cancel, done := t.stopBeat, t.beatDone
	t.stopBeat, t.beatDone = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), t.heartbeat)
	defer cancel()
	if err := t.transport.Publish(ctx, channel.Presence, channel.PresenceHeartbeat, t.announcement()); err != nil {
		t.logger.Debug("heartbeat not delivered", zap.Error(err))
	}
}

func (t *Tracker) announcement() model.PresenceAnnounce {
	return model.PresenceAnnounce{Key: t.key, At: time.Now().UTC()}
}
