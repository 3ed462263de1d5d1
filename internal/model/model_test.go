package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_LastMessage(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	conv := Conversation{ID: "c1"}
	assert.Nil(t, conv.LastMessage())
	assert.Equal(t, time.Time{}, conv.LastActivity())

	conv.Messages = []Message{
		{ID: "m2", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", CreatedAt: base},
	}
	require.NotNil(t, conv.LastMessage())
	assert.Equal(t, "m2", conv.LastMessage().ID)
	assert.Equal(t, base.Add(time.Minute), conv.LastActivity())
}

func TestConversation_HasParticipant(t *testing.T) {
	conv := Conversation{Participants: []User{{ID: "alice"}, {ID: "bob"}}}
	assert.True(t, conv.HasParticipant("bob"))
	assert.False(t, conv.HasParticipant("carol"))
}

func TestSortByActivity(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	convs := []Conversation{
		{ID: "b", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(-time.Hour), Messages: []Message{{ID: "m", CreatedAt: base.Add(time.Hour)}}},
		{ID: "a", CreatedAt: base},
	}

	SortByActivity(convs)

	ids := []string{convs[0].ID, convs[1].ID, convs[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestMessage_Seen(t *testing.T) {
	m := Message{SeenBy: []User{{ID: "bob", Email: "bob@example.com"}}}
	assert.True(t, m.SeenByUser("bob"))
	assert.True(t, m.SeenByEmail("bob@example.com"))
	assert.False(t, m.SeenByUser("alice"))
	assert.False(t, m.HasImage())
}
