// Package convlist keeps a client's conversation list in sync with pushed
// events. It performs no I/O and no locking; callers apply events from a
// single goroutine.
package convlist

import (
	"github.com/capitalize-ai/messenger/internal/model"
)

// List is the ordered conversation list, newest activity first at
// initialization, with at most one entry per conversation id.
type List struct {
	items         []model.Conversation
	open          string
	onOpenRemoved func(id string)
}

// New creates an empty list.
func New() *List {
	return &List{}
}

// OnOpenRemoved registers fn to be called when the open conversation is
// removed. The consumer decides how to navigate away.
func (l *List) OnOpenRemoved(fn func(id string)) {
	l.onOpenRemoved = fn
}

// SetOpen records the conversation the viewer is looking at.
func (l *List) SetOpen(id string) {
	l.open = id
}

// Open returns the open conversation id, if any.
func (l *List) Open() string {
	return l.open
}

// Initialize replaces the list with a store snapshot. Duplicate ids keep
// their first occurrence.
func (l *List) Initialize(snapshot []model.Conversation) {
	seen := make(map[string]struct{}, len(snapshot))
	items := make([]model.Conversation, 0, len(snapshot))
	for _, c := range snapshot {
		if _, dup := seen[c.ID]; dup || c.ID == "" {
			continue
		}
		seen[c.ID] = struct{}{}
		items = append(items, c)
	}
	model.SortByActivity(items)
	l.items = items
}

// ApplyNew prepends conv unless its id is already listed. It reports
// whether the list changed.
func (l *List) ApplyNew(conv model.Conversation) bool {
	if conv.ID == "" || l.index(conv.ID) >= 0 {
		return false
	}
	l.items = append([]model.Conversation{conv}, l.items...)
	return true
}

// ApplyUpdate replaces the message projection of a listed conversation in
// place. Position is kept so the list does not jump while being read.
// Participants and name are replaced when the event carries them. Unknown
// ids are ignored.
func (l *List) ApplyUpdate(conv model.Conversation) bool {
	i := l.index(conv.ID)
	if i < 0 {
		return false
	}

	item := &l.items[i]
	item.Messages = conv.Messages
	if item.Messages == nil {
		item.Messages = []model.Message{}
	}
	if len(conv.Participants) > 0 {
		item.Participants = conv.Participants
	}
	if conv.Name != "" {
		item.Name = conv.Name
	}
	if last := item.LastMessage(); last != nil && last.CreatedAt.After(item.LastMessageAt) {
		item.LastMessageAt = last.CreatedAt
	}
	return true
}

// ApplyRemove deletes a conversation. Removing the open conversation
// invokes the OnOpenRemoved callback.
func (l *List) ApplyRemove(id string) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)

	if id != "" && id == l.open {
		l.open = ""
		if l.onOpenRemoved != nil {
			l.onOpenRemoved(id)
		}
	}
	return true
}

// Items returns a copy of the list in display order.
func (l *List) Items() []model.Conversation {
	out := make([]model.Conversation, len(l.items))
	copy(out, l.items)
	return out
}

// IDs returns the conversation ids in display order.
func (l *List) IDs() []string {
	out := make([]string, len(l.items))
	for i, c := range l.items {
		out[i] = c.ID
	}
	return out
}

// Len returns the number of listed conversations.
func (l *List) Len() int {
	return len(l.items)
}

// Get returns a listed conversation by id.
func (l *List) Get(id string) (model.Conversation, bool) {
	if i := l.index(id); i >= 0 {
		return l.items[i], true
	}
	return model.Conversation{}, false
}

// HasSeen reports whether the user with email has seen the last message of
// conv. A conversation without messages counts as seen.
func HasSeen(conv model.Conversation, email string) bool {
	last := conv.LastMessage()
	if last == nil {
		return true
	}
	return last.SeenByEmail(email)
}

// Preview is the one-line summary of the last message shown in the list.
func Preview(conv model.Conversation) string {
	last := conv.LastMessage()
	switch {
	case last == nil:
		return "Start a conversation"
	case last.HasImage():
		return "Sent an image"
	default:
		return last.Body
	}
}

func (l *List) index(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}
