package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/messenger/internal/model"
)

func TestSet(t *testing.T) {
	s := NewSet()
	assert.False(t, s.Has("alice"))

	s.Apply(model.PresenceDelta{Joined: []string{"alice", "bob", ""}})
	assert.Equal(t, []string{"alice", "bob"}, s.Members())

	s.Apply(model.PresenceDelta{Left: []string{"alice", "carol"}})
	assert.Equal(t, []string{"bob"}, s.Members())

	// Re-applying a join is a no-op.
	s.Apply(model.PresenceDelta{Joined: []string{"bob"}})
	assert.Equal(t, 1, s.Len())

	d := s.Reset([]string{"carol", "dave"})
	assert.Equal(t, model.PresenceDelta{Joined: []string{"carol", "dave"}, Left: []string{"bob"}}, d)
	assert.Equal(t, []string{"carol", "dave"}, s.Members())

	assert.Equal(t, []string{"carol", "dave"}, s.Clear())
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Clear())
}
