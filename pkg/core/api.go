package core

import (
	"context"

	"Parley/pkg/models"
)

// MessageAPI is the injected REST collaborator. Every method that mutates a
// message returns the server's updated snapshot; callers feed that snapshot
// through the same upsert path as transport events so there is exactly one
// merge code path regardless of origin.
type MessageAPI interface {
	// GetMessages returns one page of history for a conversation, ordered by
	// the server. Pages are merged into the local view, never replace it.
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)

	// MarkRead marks every message in the conversation as read for this user.
	MarkRead(ctx context.Context, conversationID string) error

	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, conversationID, messageID, content string) (*models.Message, error)

	// DeleteMessage deletes a message, for everyone or only for this user.
	DeleteMessage(ctx context.Context, conversationID, messageID string, forEveryone bool) (*models.Message, error)

	// StarMessage sets or clears the star flag on a message.
	StarMessage(ctx context.Context, conversationID, messageID string, starred bool) (*models.Message, error)

	// AddReaction adds an emoji reaction from this user.
	AddReaction(ctx context.Context, conversationID, messageID, emoji string) (*models.Message, error)

	// RemoveReaction removes an emoji reaction from this user.
	RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) (*models.Message, error)
}
