// Package db provides an optional local SQLite cache of confirmed messages.
// The synchronization core owns no persistence; the cache is a collaborator
// the application subscribes to the store so reopening a conversation can be
// seeded without waiting for the network.
package db

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Parley/pkg/models"
)

// cachedMessage is one row of the cache. The message itself is stored as a
// JSON snapshot; only the columns needed for lookups are materialized.
type cachedMessage struct {
	ID             string    `gorm:"primarykey"`
	ConversationID string    `gorm:"index"`
	CreatedAt      time.Time `gorm:"index"`
	Payload        string    `gorm:"type:text"`
}

// Cache is a write-through message cache backed by SQLite.
type Cache struct {
	db *gorm.DB
}

// Open opens (or creates) the cache database at the given path. An empty path
// places it in the user's config directory.
func Open(path string) (*Cache, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("could not get user config dir: %w", err)
		}
		path = filepath.Join(configDir, "Parley", "cache.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("could not create cache directory: %w", err)
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := gdb.AutoMigrate(&cachedMessage{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}

	return &Cache{db: gdb}, nil
}

// Put stores one confirmed message. Messages still carrying a temporary id
// are skipped; they have no server identity to key on.
func (c *Cache) Put(msg models.Message) error {
	if msg.IsTemp() {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}
	row := cachedMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		CreatedAt:      msg.CreatedAt,
		Payload:        string(payload),
	}
	err = c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to cache message %s: %w", msg.ID, err)
	}
	return nil
}

// PutAll stores a batch of messages, skipping temporary ids.
func (c *Cache) PutAll(msgs []models.Message) error {
	for _, msg := range msgs {
		if err := c.Put(msg); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to limit cached messages of a conversation, oldest first.
func (c *Cache) Recent(conversationID string, limit int) ([]models.Message, error) {
	var rows []cachedMessage
	err := c.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	msgs := make([]models.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(rows[i].Payload), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete removes one message from the cache.
func (c *Cache) Delete(id string) error {
	return c.db.Delete(&cachedMessage{}, "id = ?", id).Error
}

// DeleteConversation removes every cached message of a conversation.
func (c *Cache) DeleteConversation(conversationID string) error {
	return c.db.Delete(&cachedMessage{}, "conversation_id = ?", conversationID).Error
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
