// Package presence derives the live set of online users from membership
// deltas on the presence channel.
package presence

import (
	"sort"

	"github.com/capitalize-ai/messenger/internal/model"
)

// Set is the cumulative application of presence deltas. It is not safe for
// concurrent use.
type Set struct {
	members map[string]struct{}
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{members: make(map[string]struct{})}
}

// Apply adds the joined keys, then removes the left keys.
func (s *Set) Apply(d model.PresenceDelta) {
	for _, k := range d.Joined {
		if k != "" {
			s.members[k] = struct{}{}
		}
	}
	for _, k := range d.Left {
		delete(s.members, k)
	}
}

// Reset replaces the set with members and returns the delta from the
// previous state.
func (s *Set) Reset(members []string) model.PresenceDelta {
	next := NewSet()
	next.Apply(model.PresenceDelta{Joined: members})

	var d model.PresenceDelta
	for k := range next.members {
		if !s.Has(k) {
			d.Joined = append(d.Joined, k)
		}
	}
	for k := range s.members {
		if !next.Has(k) {
			d.Left = append(d.Left, k)
		}
	}
	sort.Strings(d.Joined)
	sort.Strings(d.Left)

	s.members = next.members
	return d
}

// Clear empties the set and returns the keys that were present.
func (s *Set) Clear() []string {
	left := s.Members()
	s.members = make(map[string]struct{})
	return left
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	_, ok := s.members[key]
	return ok
}

// Members returns the present keys in sorted order.
func (s *Set) Members() []string {
	out := make([]string, 0, len(s.members))
	for k := range s.members {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of present keys.
func (s *Set) Len() int {
	return len(s.members)
}
