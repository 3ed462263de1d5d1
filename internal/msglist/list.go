// Package msglist keeps the message list of the open conversation in sync
// with pushed events and tracks optimistic edits until the server answers.
// Like convlist it performs no I/O and is driven from a single goroutine.
package msglist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
)

// EditState is the lifecycle of an optimistic edit.
type EditState string

const (
	EditPending   EditState = "pending"
	EditConfirmed EditState = "confirmed"
	EditFailed    EditState = "failed"
)

// Edit is an in-flight or settled optimistic edit.
type Edit struct {
	MessageID string
	Body      string
	Previous  string
	State     EditState
	Err       error
}

// List is the ordered message list of one conversation.
type List struct {
	conversationID string
	messages       []model.Message
	edits          map[string]*Edit
}

// New creates an empty list for a conversation.
func New(conversationID string) *List {
	return &List{
		conversationID: conversationID,
		edits:          make(map[string]*Edit),
	}
}

// ConversationID returns the conversation this list follows.
func (l *List) ConversationID() string {
	return l.conversationID
}

// Initialize replaces the list with a store snapshot in creation order.
// Pending edits are dropped.
func (l *List) Initialize(msgs []model.Message) {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup || !l.accepts(m) {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	l.messages = out
	l.edits = make(map[string]*Edit)
}

// ApplyNew inserts a message in creation order. Known ids are ignored.
func (l *List) ApplyNew(m model.Message) bool {
	if !l.accepts(m) || l.index(m.ID) >= 0 {
		return false
	}
	i := sort.Search(len(l.messages), func(i int) bool { return l.messages[i].CreatedAt.After(m.CreatedAt) })
	l.messages = append(l.messages, model.Message{})
	copy(l.messages[i+1:], l.messages[i:])
	l.messages[i] = m
	return true
}

// ApplyUpdate replaces a message in place, typically with a new seen set.
// A pending edit keeps its optimistic body.
func (l *List) ApplyUpdate(m model.Message) bool {
	i := l.index(m.ID)
	if i < 0 || !l.accepts(m) {
		return false
	}
	if e, ok := l.edits[m.ID]; ok && e.State == EditPending {
		m.Body = e.Body
	}
	l.messages[i] = m
	return true
}

// ApplyEdited replaces a message after an edit. It confirms a pending edit
// that proposed the same body. A different body means another edit landed
// first, so the pending one is marked failed and nothing is rolled back.
func (l *List) ApplyEdited(m model.Message) bool {
	i := l.index(m.ID)
	if i < 0 || !l.accepts(m) {
		return false
	}
	l.messages[i] = m
	if e, ok := l.edits[m.ID]; ok && e.State == EditPending {
		if e.Body == m.Body {
			e.State = EditConfirmed
		} else {
			e.State = EditFailed
			e.Previous = m.Body
			e.Err = fmt.Errorf("%w: message %s was edited elsewhere", common.ErrConflict, m.ID)
		}
	}
	return true
}

// ApplyDeleted removes a message and forgets its edit.
func (l *List) ApplyDeleted(d model.MessageDeleted) bool {
	if d.ConversationID != "" && d.ConversationID != l.conversationID {
		return false
	}
	i := l.index(d.ID)
	if i < 0 {
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	delete(l.edits, d.ID)
	return true
}

// BeginEdit applies body to the message before the server confirms it. The
// same rules as the server apply: only the sender, no image, no empty body,
// and one edit in flight per message.
func (l *List) BeginEdit(messageID, editorID, body string) (Edit, error) {
	i := l.index(messageID)
	if i < 0 {
		return Edit{}, fmt.Errorf("%w: message %s", common.ErrNotFound, messageID)
	}
	m := &l.messages[i]
	switch {
	case m.Sender.ID != editorID:
		return Edit{}, fmt.Errorf("%w: only the sender may edit message %s", common.ErrForbidden, messageID)
	case m.HasImage():
		return Edit{}, fmt.Errorf("%w: message %s has an image and cannot be edited", common.ErrValidation, messageID)
	case strings.TrimSpace(body) == "":
		return Edit{}, fmt.Errorf("%w: message body cannot be empty", common.ErrValidation)
	}
	if e, ok := l.edits[messageID]; ok && e.State == EditPending {
		return Edit{}, fmt.Errorf("%w: an edit of message %s is already in flight", common.ErrConflict, messageID)
	}

	e := &Edit{MessageID: messageID, Body: body, Previous: m.Body, State: EditPending}
	l.edits[messageID] = e
	m.Body = body
	return *e, nil
}

// ConfirmEdit settles an edit with the server's copy of the message. A copy
// older than the one already shown does not replace it.
func (l *List) ConfirmEdit(confirmed model.Message) {
	e, ok := l.edits[confirmed.ID]
	if !ok {
		return
	}
	e.State = EditConfirmed
	e.Err = nil
	if i := l.index(confirmed.ID); i >= 0 && !editedBefore(confirmed, l.messages[i]) {
		l.messages[i] = confirmed
	}
}

// editedBefore reports whether a was edited before b.
func editedBefore(a, b model.Message) bool {
	return a.EditedAt != nil && b.EditedAt != nil && a.EditedAt.Before(*b.EditedAt)
}

// FailEdit rolls the message back to its body before the edit.
func (l *List) FailEdit(messageID string, err error) {
	e, ok := l.edits[messageID]
	if !ok || e.State != EditPending {
		return
	}
	e.State = EditFailed
	e.Err = err
	if i := l.index(messageID); i >= 0 {
		l.messages[i].Body = e.Previous
	}
}

// EditState returns the latest edit of a message.
func (l *List) EditState(messageID string) (Edit, bool) {
	e, ok := l.edits[messageID]
	if !ok {
		return Edit{}, false
	}
	return *e, true
}

// Messages returns a copy of the list in creation order.
func (l *List) Messages() []model.Message {
	out := make([]model.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Get returns a message by id.
func (l *List) Get(id string) (model.Message, bool) {
	if i := l.index(id); i >= 0 {
		return l.messages[i], true
	}
	return model.Message{}, false
}

// Len returns the number of messages.
func (l *List) Len() int {
	return len(l.messages)
}

// Last returns the newest message, or nil.
func (l *List) Last() *model.Message {
	if len(l.messages) == 0 {
		return nil
	}
	m := l.messages[len(l.messages)-1]
	return &m
}

func (l *List) accepts(m model.Message) bool {
	return m.ID != "" && (m.ConversationID == "" || m.ConversationID == l.conversationID)
}

func (l *List) index(id string) int {
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}
