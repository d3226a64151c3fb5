// Package models defines the data models for the chat synchronization core.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally generated message ids. A message carrying this
// prefix has not been acknowledged by the server yet.
const TempIDPrefix = "temp_"

// MessageType represents the kind of content a message carries.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeImage is an image attachment.
	MessageTypeImage MessageType = "image"
	// MessageTypeVideo is a video attachment.
	MessageTypeVideo MessageType = "video"
	// MessageTypeDocument is a generic file attachment.
	MessageTypeDocument MessageType = "document"
	// MessageTypeLocation is a shared location.
	MessageTypeLocation MessageType = "location"
	// MessageTypeVoice is a voice note.
	MessageTypeVoice MessageType = "voice"
)

// MessageStatus represents the delivery state of a message.
// The states form a ladder: Pending < Sent < Delivered < Read.
type MessageStatus string

const (
	// StatusPending means the message was created locally and not yet
	// acknowledged by the server.
	StatusPending MessageStatus = "pending"
	// StatusSent means the server acknowledged the message.
	StatusSent MessageStatus = "sent"
	// StatusDelivered means the message reached the recipient's device.
	StatusDelivered MessageStatus = "delivered"
	// StatusRead means the recipient read the message.
	StatusRead MessageStatus = "read"
	// StatusFailed marks a pending message that was never confirmed and was
	// swept out of the local view. It only appears on failure notifications,
	// never inside the store.
	StatusFailed MessageStatus = "failed"
)

// Rank returns the position of the status on the delivery ladder.
// Unknown statuses and StatusFailed rank below Pending so they can never
// advance a stored message.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is equal to or further along the ladder than other.
func (s MessageStatus) AtLeast(other MessageStatus) bool {
	return s.Rank() >= other.Rank()
}

// ConversationKind represents the type of a conversation.
type ConversationKind string

const (
	// KindDirect is a one-to-one conversation.
	KindDirect ConversationKind = "direct"
	// KindGroup is a multi-member conversation.
	KindGroup ConversationKind = "group"
	// KindTaskGroup is a group conversation attached to a task.
	KindTaskGroup ConversationKind = "task_group"
)

// Conversation represents a chat the client can open.
type Conversation struct {
	ID        string           `json:"id"`
	Kind      ConversationKind `json:"kind"`
	MemberIDs []string         `json:"memberIds"`
}

// IsDirect reports whether the conversation is a one-to-one chat.
// Presence tracking only applies to direct conversations.
func (c Conversation) IsDirect() bool {
	return c.Kind == KindDirect
}

// PeerID returns the member that is not selfID. Only meaningful for direct
// conversations; returns an empty string otherwise.
func (c Conversation) PeerID(selfID string) string {
	if !c.IsDirect() {
		return ""
	}
	for _, id := range c.MemberIDs {
		if id != selfID {
			return id
		}
	}
	return ""
}

// ReplyRef is a snapshot of the message being replied to, embedded in the
// replying message so the preview survives even if the original is not loaded.
type ReplyRef struct {
	MessageID  string      `json:"messageId"`
	SenderName string      `json:"senderName,omitempty"`
	Content    string      `json:"content,omitempty"`
	Type       MessageType `json:"type,omitempty"`
}

// Reaction represents one user's emoji reaction to a message.
// The pair (UserID, Emoji) is unique within a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message contains the content and delivery state of a single message.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content,omitempty"`

	// Media fields, populated for non-text message types.
	URL      string `json:"url,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Duration int    `json:"duration,omitempty"` // Seconds, for voice/video

	ReplyTo   *ReplyRef  `json:"replyTo,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`

	Status  MessageStatus `json:"status"`
	Starred bool          `json:"starred,omitempty"`

	EditedAt           *time.Time `json:"editedAt,omitempty"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
	DeletedForEveryone bool       `json:"deletedForEveryone,omitempty"`

	// CreatedAt is the authoritative sort key; UpdatedAt orders conflicting
	// writes for the same id.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// CorrelationID is a client-generated id threaded through send_message and
	// echoed back on the confirmation, so an optimistic pending entry can be
	// matched exactly.
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewTempID generates a local message id carrying the reserved temp prefix.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTemp reports whether the message still carries a locally generated id.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// IsTombstone reports whether the message was deleted for everyone and is
// retained only as a placeholder.
func (m Message) IsTombstone() bool {
	return m.DeletedForEveryone && m.DeletedAt != nil
}

// HasReaction reports whether the given user already reacted with the emoji.
func (m Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ReactionCounts collapses the reaction set into per-emoji counts.
func (m Message) ReactionCounts() map[string]int {
	if len(m.Reactions) == 0 {
		return nil
	}
	counts := make(map[string]int, len(m.Reactions))
	for _, r := range m.Reactions {
		counts[r.Emoji]++
	}
	return counts
}

// Before reports whether m sorts before other in the (CreatedAt, ID) order
// used by the store's view.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
