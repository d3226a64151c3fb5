package core

import (
	"time"

	"Parley/pkg/models"
)

// EventType represents the type of event the engine surfaces to the UI layer.
type EventType string

const (
	// EventTypeMessagesChanged signals that the ordered view of a
	// conversation changed and should be re-read.
	EventTypeMessagesChanged EventType = "messages_changed"
	// EventTypeTyping signals a change in a peer's typing state.
	EventTypeTyping EventType = "typing"
	// EventTypePresence signals a change in the direct peer's online state.
	EventTypePresence EventType = "presence"
	// EventTypeSendFailed signals that a pending message was never confirmed
	// and was removed from the view. The user may retry manually.
	EventTypeSendFailed EventType = "send_failed"
)

// Event is the base interface for all engine-to-UI events.
type Event interface {
	Type() EventType
}

// MessagesChangedEvent signals that the conversation's ordered view changed.
type MessagesChangedEvent struct {
	ConversationID string
}

// Type returns the event type for MessagesChangedEvent.
func (e MessagesChangedEvent) Type() EventType {
	return EventTypeMessagesChanged
}

// TypingEvent signals that a peer started or stopped typing.
type TypingEvent struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// Type returns the event type for TypingEvent.
func (e TypingEvent) Type() EventType {
	return EventTypeTyping
}

// PresenceEvent signals a change in the direct peer's online state.
type PresenceEvent struct {
	UserID   string
	IsOnline bool
	LastSeen *time.Time
}

// Type returns the event type for PresenceEvent.
func (e PresenceEvent) Type() EventType {
	return EventTypePresence
}

// SendFailedEvent carries the message that could not be sent. Its status is
// StatusFailed; it has already been removed from the store.
type SendFailedEvent struct {
	Message models.Message
}

// Type returns the event type for SendFailedEvent.
func (e SendFailedEvent) Type() EventType {
	return EventTypeSendFailed
}
