package core

import "time"

// Wire payloads for the named transport events. new_message carries a full
// models.Message and is decoded directly; everything else uses the structs
// below.

// SendMessagePayload is emitted on send_message.
type SendMessagePayload struct {
	ConversationID   string  `json:"conversationId"`
	Content          string  `json:"content,omitempty"`
	MediaURL         string  `json:"mediaUrl,omitempty"`
	MessageType      string  `json:"messageType"`
	ReplyToMessageID *string `json:"replyToMessageId,omitempty"`
	CorrelationID    string  `json:"correlationId,omitempty"`
}

// StatusUpdatePayload arrives on message_status_update.
type StatusUpdatePayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationReadPayload arrives on conversation_messages_read when a peer
// read everything in the conversation.
type ConversationReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageEditedPayload arrives on message_edited.
type MessageEditedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"editedAt"`
}

// MessageDeletedPayload arrives on message_deleted.
type MessageDeletedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	DeletedBy      string    `json:"deletedBy"`
	ForEveryone    bool      `json:"deleteForEveryone"`
	DeletedAt      time.Time `json:"deletedAt"`
}

// TypingPayload is both consumed and emitted on typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// PresencePayload arrives on user_online / user_offline broadcasts.
type PresencePayload struct {
	UserID   string `json:"userId"`
	LastSeen *int64 `json:"lastSeen,omitempty"` // Unix seconds, offline only
}

// OnlineStatusPayload arrives on user_online_status, the direct response to a
// check_user_online probe.
type OnlineStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen *int64 `json:"lastSeen,omitempty"`
}

// CheckOnlinePayload is emitted on check_user_online.
type CheckOnlinePayload struct {
	UserID string `json:"userId"`
}

// MessageReadPayload is emitted on message_read for a single message.
type MessageReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// ReactionPayload arrives on message_reaction_added / message_reaction_removed.
type ReactionPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Emoji          string    `json:"emoji"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReactionAction selects between adding and removing a reaction.
type ReactionAction string

const (
	// ReactionAdd adds a reaction.
	ReactionAdd ReactionAction = "add"
	// ReactionRemove removes a reaction.
	ReactionRemove ReactionAction = "remove"
)

// MessageReactionPayload is emitted on message_reaction.
type MessageReactionPayload struct {
	MessageID      string         `json:"messageId"`
	ConversationID string         `json:"conversationId"`
	Emoji          string         `json:"emoji"`
	Action         ReactionAction `json:"action"`
}
