// Package store implements the ordered, deduplicated message collection for
// one open conversation. The store is a pure projection: it owns no
// persistence and is discarded when the conversation closes.
package store

import (
	"sort"
	"sync"
	"time"

	"Parley/pkg/models"
)

// Store holds the messages of one conversation, keyed by id, and produces an
// ordered view sorted by (CreatedAt, ID). All mutations are idempotent:
// applying the same event twice leaves the store unchanged, which is what
// makes at-least-once delivery safe.
type Store struct {
	conversationID string

	mu       sync.RWMutex
	messages map[string]*models.Message
	view     []models.Message
	dirty    bool

	subsMu  sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New creates an empty store for a conversation.
func New(conversationID string) *Store {
	return &Store{
		conversationID: conversationID,
		messages:       make(map[string]*models.Message),
		subs:           make(map[int]func()),
	}
}

// ConversationID returns the conversation this store projects.
func (s *Store) ConversationID() string {
	return s.conversationID
}

// Subscribe registers a change listener and returns a function that removes
// it. Listeners are invoked after every mutation that changed state, outside
// the store's lock.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	listeners := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Upsert inserts the message or merges it into the existing entry with the
// same id. The merge is later-write-wins per field, keyed on the message's
// own UpdatedAt so a late-arriving but logically older write cannot clobber a
// newer one. Status only ever advances. Returns the stored result.
func (s *Store) Upsert(msg models.Message) models.Message {
	s.mu.Lock()

	existing, ok := s.messages[msg.ID]
	if !ok {
		stored := msg
		s.messages[msg.ID] = &stored
		s.dirty = true
		s.mu.Unlock()
		s.notify()
		return stored
	}

	merged := mergeMessage(*existing, msg)
	*existing = merged
	s.dirty = true
	s.mu.Unlock()
	s.notify()
	return merged
}

// mergeMessage applies the later-write-wins rule field group by field group.
// CreatedAt is pinned to the earliest known value so the sort key is stable,
// and a tombstone is never resurrected by an older write.
func mergeMessage(existing, incoming models.Message) models.Message {
	out := existing

	incomingNewer := !incoming.UpdatedAt.Before(existing.UpdatedAt)

	if incomingNewer && !existing.IsTombstone() {
		out.Content = incoming.Content
		out.URL = incoming.URL
		out.FileName = incoming.FileName
		out.FileSize = incoming.FileSize
		out.MimeType = incoming.MimeType
		out.Duration = incoming.Duration
		out.Starred = incoming.Starred
		out.UpdatedAt = incoming.UpdatedAt
		if incoming.ReplyTo != nil {
			out.ReplyTo = incoming.ReplyTo
		}
		if incoming.Reactions != nil {
			out.Reactions = incoming.Reactions
		}
		if incoming.EditedAt != nil {
			out.EditedAt = incoming.EditedAt
		}
	}

	// A tombstone always wins over content, regardless of arrival order.
	if incoming.IsTombstone() {
		out.Content = ""
		out.URL = ""
		out.DeletedAt = incoming.DeletedAt
		out.DeletedForEveryone = true
		if incoming.UpdatedAt.After(out.UpdatedAt) {
			out.UpdatedAt = incoming.UpdatedAt
		}
	}

	// Status never regresses.
	if incoming.Status.AtLeast(out.Status) {
		out.Status = incoming.Status
	}

	// Keep the earliest authoritative sort key; a zero CreatedAt on either
	// side defers to the other.
	if out.CreatedAt.IsZero() || (!incoming.CreatedAt.IsZero() && incoming.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = incoming.CreatedAt
	}

	if incoming.CorrelationID != "" {
		out.CorrelationID = incoming.CorrelationID
	}
	if incoming.SenderID != "" {
		out.SenderID = incoming.SenderID
	}
	if incoming.Type != "" {
		out.Type = incoming.Type
	}

	return out
}

// Remove deletes the entry entirely. Used for delete-for-me and for clearing
// pending ghosts; delete-for-everyone uses Tombstone instead.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, ok := s.messages[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.messages, id)
	s.dirty = true
	s.mu.Unlock()
	s.notify()
	return true
}

// MarkStatus advances the delivery status of one message. It is a no-op when
// the new status is not further along the ladder than the current one, or
// when the id is unknown.
func (s *Store) MarkStatus(id string, status models.MessageStatus) bool {
	s.mu.Lock()
	msg, ok := s.messages[id]
	if !ok || !status.AtLeast(msg.Status) || status == msg.Status {
		s.mu.Unlock()
		return false
	}
	msg.Status = status
	s.dirty = true
	s.mu.Unlock()
	s.notify()
	return true
}

// ApplyReaction toggles one (userID, emoji) reaction on a message. Adding an
// already-present reaction or removing an absent one is a no-op, so repeated
// delivery of the same reaction event is harmless.
func (s *Store) ApplyReaction(id, userID, emoji string, add bool) bool {
	s.mu.Lock()
	msg, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if add {
		if msg.HasReaction(userID, emoji) {
			s.mu.Unlock()
			return false
		}
		msg.Reactions = append(msg.Reactions, models.Reaction{UserID: userID, Emoji: emoji})
	} else {
		idx := -1
		for i, r := range msg.Reactions {
			if r.UserID == userID && r.Emoji == emoji {
				idx = i
				break
			}
		}
		if idx < 0 {
			s.mu.Unlock()
			return false
		}
		msg.Reactions = append(msg.Reactions[:idx], msg.Reactions[idx+1:]...)
		if len(msg.Reactions) == 0 {
			msg.Reactions = nil
		}
	}
	s.dirty = true
	s.mu.Unlock()
	s.notify()
	return true
}

// Tombstone converts the message into a delete-for-everyone placeholder:
// content cleared, DeletedAt set, position among siblings preserved.
func (s *Store) Tombstone(id string, deletedAt time.Time) bool {
	s.mu.Lock()
	msg, ok := s.messages[id]
	if !ok || msg.IsTombstone() {
		s.mu.Unlock()
		return false
	}
	msg.Content = ""
	msg.URL = ""
	msg.DeletedForEveryone = true
	msg.DeletedAt = &deletedAt
	if deletedAt.After(msg.UpdatedAt) {
		msg.UpdatedAt = deletedAt
	}
	s.dirty = true
	s.mu.Unlock()
	s.notify()
	return true
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	return *msg, true
}

// Len returns the number of entries, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// OrderedView returns the messages sorted by (CreatedAt, ID) ascending. The
// view is recomputed lazily after mutations and cached between them; callers
// must treat the returned slice as read-only.
func (s *Store) OrderedView() []models.Message {
	s.mu.RLock()
	if !s.dirty {
		view := s.view
		s.mu.RUnlock()
		return view
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		view := make([]models.Message, 0, len(s.messages))
		for _, msg := range s.messages {
			view = append(view, *msg)
		}
		sort.Slice(view, func(i, j int) bool {
			return view[i].Before(view[j])
		})
		s.view = view
		s.dirty = false
	}
	return s.view
}

// Pending returns the sender's pending messages in view order.
func (s *Store) Pending(senderID string) []models.Message {
	var pending []models.Message
	for _, msg := range s.OrderedView() {
		if msg.Status == models.StatusPending && msg.SenderID == senderID {
			pending = append(pending, msg)
		}
	}
	return pending
}
