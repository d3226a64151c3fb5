// Package core provides the collaborator contracts and shared types for the
// chat synchronization engine.
package core

import "encoding/json"

// Transport event names consumed by the engine.
const (
	EventNewMessage           = "new_message"
	EventMessageStatusUpdate  = "message_status_update"
	EventConversationRead     = "conversation_messages_read"
	EventMessageEdited        = "message_edited"
	EventMessageDeleted       = "message_deleted"
	EventTyping               = "typing"
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventUserOnlineStatus     = "user_online_status"
	EventMessageReactionAdded = "message_reaction_added"
	EventMessageReactionGone  = "message_reaction_removed"
)

// Transport event names emitted by the engine.
const (
	EventSendMessage     = "send_message"
	EventMessageRead     = "message_read"
	EventCheckUserOnline = "check_user_online"
	EventMessageReaction = "message_reaction"
)

// HandlerFunc receives the raw payload of a named transport event.
// Handlers must not block; the engine copies payloads onto its own queue.
type HandlerFunc func(payload json.RawMessage)

// Transport is the injected live event channel to the chat server.
// Connection lifecycle (dialing, reconnection backoff) is owned by the caller;
// the engine only subscribes to named events and emits named events.
type Transport interface {
	// Subscribe registers a handler for a named event and returns a function
	// that removes exactly that handler when called.
	Subscribe(event string, h HandlerFunc) (unsubscribe func(), err error)

	// Emit sends a named event with a JSON-serializable payload.
	Emit(event string, payload interface{}) error
}
