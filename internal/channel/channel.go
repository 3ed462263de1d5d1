// Package channel derives notification bus addresses and names the events
// carried on them. Addresses are routing keys only, never state.
package channel

// Presence is the single well-known presence channel.
const Presence = "presence-messenger"

// Event names.
const (
	ConversationNew    = "conversation:new"
	ConversationUpdate = "conversation:update"
	ConversationRemove = "conversation:remove"

	MessageNew     = "message:new"
	MessageUpdate  = "message:update"
	MessageEdited  = "message:edited"
	MessageDeleted = "message:deleted"

	PresenceJoin      = "presence:join"
	PresenceLeave     = "presence:leave"
	PresenceHeartbeat = "presence:heartbeat"
	PresenceBye       = "presence:bye"
	PresenceSnapshot  = "presence:snapshot"
)

// User returns the per-user channel, addressed by email.
func User(email string) string {
	return email
}

// Conversation returns the per-conversation channel.
func Conversation(id string) string {
	return id
}
