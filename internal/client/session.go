package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/bus"
	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/convlist"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/internal/msglist"
	"github.com/capitalize-ai/messenger/pkg/logger"
	"github.com/capitalize-ai/messenger/pkg/metrics"
)

const (
	inboxSize   = 256
	seenTimeout = 5 * time.Second
)

// Change describes an event the session applied.
type Change struct {
	Channel string
	Event   string
	ID      string
}

// Session subscribes to the viewer's channels and applies every event to
// the conversation list and the open conversation's message list. All
// state is owned by one goroutine; events are handled one at a time.
type Session struct {
	viewer model.Viewer
	bus    bus.Subscriber
	api    API
	logger *logger.Logger

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	// ctx bounds background calls and is cancelled by Close.
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup

	// Owned by the loop goroutine.
	list     *convlist.List
	messages *msglist.List
	onChange func(Change)
	onLeave  func(id string)

	mu       sync.Mutex
	started  bool
	closed   bool
	userSub  bus.Subscription
	convSub  bus.Subscription
	openConv string
}

// NewSession creates a session for viewer. Call Start to subscribe.
func NewSession(viewer model.Viewer, sub bus.Subscriber, api API, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ctx:    ctx,
		cancel: cancel,
		viewer: viewer,
		bus:    sub,
		api:    api,
		logger: log.Named("session").With(zap.String("user_id", viewer.UserID)),
		inbox:  make(chan func(), inboxSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		list:   convlist.New(),
	}
	s.list.OnOpenRemoved(s.openRemoved)
	return s
}

// OnChange registers fn to run on the session goroutine after each applied
// event. It must not block.
func (s *Session) OnChange(fn func(Change)) {
	s.onChange = fn
}

// OnLeave registers fn to run when the open conversation disappears.
func (s *Session) OnLeave(fn func(id string)) {
	s.onLeave = fn
}

// Start subscribes to the viewer's channel and loads the initial list.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already started", common.ErrConflict)
	}
	s.started = true
	s.mu.Unlock()

	go s.run()

	sub, err := s.bus.Subscribe(channel.User(s.viewer.Email), s.enqueue)
	if err != nil {
		return fmt.Errorf("failed to subscribe to user channel: %w", err)
	}
	s.mu.Lock()
	s.userSub = sub
	s.mu.Unlock()

	return s.Resync(ctx)
}

// Resync replaces local state with a fresh snapshot. It is the only repair
// for events missed while disconnected.
func (s *Session) Resync(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	openID := s.OpenConversation()
	var open *model.Conversation
	if openID != "" {
		open, err = s.api.GetConversation(ctx, openID)
		if err != nil && !errors.Is(err, common.ErrNotFound) && !errors.Is(err, common.ErrForbidden) {
			return fmt.Errorf("failed to load conversation %s: %w", openID, err)
		}
	}

	return s.call(ctx, func() {
		s.list.Initialize(convs)
		if openID == "" || s.messages == nil || s.messages.ConversationID() != openID {
			return
		}
		if open == nil {
			s.list.SetOpen("")
			s.openRemoved(openID)
			return
		}
		s.messages.Initialize(open.Messages)
		s.list.SetOpen(openID)
	})
}

// Open subscribes to a conversation, loads its messages and marks it seen.
// A previously open conversation is unsubscribed.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	sub, err := s.bus.Subscribe(channel.Conversation(conversationID), s.enqueue)
	if err != nil {
		return fmt.Errorf("failed to subscribe to conversation: %w", err)
	}

	conv, err := s.api.GetConversation(ctx, conversationID)
	if err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return fmt.Errorf("%w: session closed", common.ErrConflict)
	}
	previous := s.convSub
	s.convSub = sub
	s.openConv = conversationID
	s.mu.Unlock()

	if previous != nil {
		_ = previous.Unsubscribe()
	}

	err = s.call(ctx, func() {
		s.messages = msglist.New(conversationID)
		s.messages.Initialize(conv.Messages)
		s.list.SetOpen(conversationID)
	})
	if err != nil {
		return err
	}

	s.markSeen(conversationID)
	return nil
}

// CloseConversation stops following the open conversation.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	sub := s.convSub
	s.convSub = nil
	s.openConv = ""
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	s.submit(func() {
		s.messages = nil
		s.list.SetOpen("")
	})
}

// OpenConversation returns the id of the open conversation.
func (s *Session) OpenConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openConv
}

// Edit applies an edit optimistically, sends it, and settles the local
// state with the response.
func (s *Session) Edit(ctx context.Context, messageID, body string) error {
	var beginErr error
	if err := s.call(ctx, func() {
		if s.messages == nil {
			beginErr = fmt.Errorf("%w: no open conversation", common.ErrNotFound)
			return
		}
		_, beginErr = s.messages.BeginEdit(messageID, s.viewer.UserID, body)
	}); err != nil {
		return err
	}
	if beginErr != nil {
		return beginErr
	}

	msg, err := s.api.EditMessage(ctx, messageID, body)
	s.submit(func() {
		if s.messages == nil {
			return
		}
		if err != nil {
			s.messages.FailEdit(messageID, err)
			return
		}
		s.messages.ConfirmEdit(*msg)
	})
	return err
}

// Conversations returns the conversation list in display order.
func (s *Session) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	err := s.call(ctx, func() { out = s.list.Items() })
	return out, err
}

// Messages returns the open conversation's messages.
func (s *Session) Messages(ctx context.Context) ([]model.Message, error) {
	var out []model.Message
	err := s.call(ctx, func() {
		if s.messages != nil {
			out = s.messages.Messages()
		}
	})
	return out, err
}

// EditState returns the optimistic edit state of a message.
func (s *Session) EditState(ctx context.Context, messageID string) (msglist.Edit, bool, error) {
	var (
		edit msglist.Edit
		ok   bool
	)
	err := s.call(ctx, func() {
		if s.messages != nil {
			edit, ok = s.messages.EditState(messageID)
		}
	})
	return edit, ok, err
}

// Close unsubscribes every channel and stops the session goroutine. Events
// still in flight are ignored.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	subs := []bus.Subscription{s.userSub, s.convSub}
	s.userSub, s.convSub = nil, nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	s.cancel()
	close(s.quit)
	if started {
		<-s.done
	}
	s.background.Wait()
	return errors.Join(errs...)
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case task := <-s.inbox:
			task()
		}
	}
}

// enqueue is the bus handler. It never blocks the transport; when the
// inbox is full the event is dropped and the next Resync repairs state.
func (s *Session) enqueue(env bus.Envelope) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.EventsDropped.WithLabelValues("closed").Inc()
		return
	}

	select {
	case s.inbox <- func() { s.dispatch(env) }:
	default:
		metrics.EventsDropped.WithLabelValues("inbox_full").Inc()
		s.logger.Warn("session inbox full, event dropped",
			zap.String("channel", env.Channel),
			zap.String("event", env.Event),
		)
	}
}

// submit queues a task unless the session is closed.
func (s *Session) submit(task func()) bool {
	select {
	case <-s.quit:
		return false
	case s.inbox <- task:
		return true
	}
}

// call runs task on the session goroutine and waits for it.
func (s *Session) call(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		task()
	}

	select {
	case <-s.quit:
		return fmt.Errorf("%w: session closed", common.ErrConflict)
	case <-ctx.Done():
		return ctx.Err()
	case s.inbox <- wrapped:
	}

	select {
	case <-finished:
		return nil
	case <-s.quit:
		return fmt.Errorf("%w: session closed", common.ErrConflict)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) dispatch(env bus.Envelope) {
	select {
	case <-s.quit:
		return
	default:
	}

	var (
		id      string
		applied bool
		err     error
	)
	switch {
	case env.Channel == channel.User(s.viewer.Email):
		id, applied, err = s.applyConversationEvent(env)
	case s.messages != nil && env.Channel == channel.Conversation(s.messages.ConversationID()):
		id, applied, err = s.applyMessageEvent(env)
	default:
		return
	}

	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		s.logger.Warn("dropping malformed event",
			zap.String("channel", env.Channel),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return
	}
	if applied && s.onChange != nil {
		s.onChange(Change{Channel: env.Channel, Event: env.Event, ID: id})
	}
}

func (s *Session) applyConversationEvent(env bus.Envelope) (string, bool, error) {
	switch env.Event {
	case channel.ConversationNew, channel.ConversationUpdate, channel.ConversationRemove:
	default:
		return "", false, nil
	}

	var conv model.Conversation
	if err := env.Decode(&conv); err != nil {
		return "", false, err
	}
	if conv.ID == "" {
		return "", false, fmt.Errorf("%s without a conversation id", env.Event)
	}

	switch env.Event {
	case channel.ConversationNew:
		return conv.ID, s.list.ApplyNew(conv), nil
	case channel.ConversationUpdate:
		return conv.ID, s.list.ApplyUpdate(conv), nil
	default:
		return conv.ID, s.list.ApplyRemove(conv.ID), nil
	}
}

func (s *Session) applyMessageEvent(env bus.Envelope) (string, bool, error) {
	switch env.Event {
	case channel.MessageDeleted:
		var d model.MessageDeleted
		if err := env.Decode(&d); err != nil {
			return "", false, err
		}
		return d.ID, s.messages.ApplyDeleted(d), nil

	case channel.MessageNew, channel.MessageUpdate, channel.MessageEdited:
		var msg model.Message
		if err := env.Decode(&msg); err != nil {
			return "", false, err
		}
		if msg.ID == "" {
			return "", false, fmt.Errorf("%s without a message id", env.Event)
		}
		switch env.Event {
		case channel.MessageNew:
			applied := s.messages.ApplyNew(msg)
			if applied && msg.Sender.ID != s.viewer.UserID {
				s.markSeen(s.messages.ConversationID())
			}
			return msg.ID, applied, nil
		case channel.MessageUpdate:
			return msg.ID, s.messages.ApplyUpdate(msg), nil
		default:
			return msg.ID, s.messages.ApplyEdited(msg), nil
		}
	}
	return "", false, nil
}

// openRemoved runs on the loop when the open conversation leaves the list.
// Open may already have moved on to another conversation, whose
// subscription is left alone.
func (s *Session) openRemoved(id string) {
	if s.messages != nil && s.messages.ConversationID() == id {
		s.messages = nil
	}

	s.mu.Lock()
	if s.openConv != id {
		s.mu.Unlock()
		return
	}
	sub := s.convSub
	s.convSub = nil
	s.openConv = ""
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}

	if s.onLeave != nil {
		s.onLeave(id)
	}
}

// markSeen reports the open conversation as seen without blocking the
// session goroutine. Close cancels calls still in flight.
func (s *Session) markSeen(conversationID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.background.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(s.ctx, seenTimeout)
		defer cancel()
		if _, err := s.api.MarkSeen(ctx, conversationID); err != nil {
			s.logger.Debug("mark seen failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}()
}
