// Package conversation implements the per-conversation synchronization
// session: the reconciliation engine that merges REST history pages and live
// transport events into one ordered projection, plus presence tracking,
// typing coordination, and history pagination.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"Parley/pkg/core"
	"Parley/pkg/logging"
	"Parley/pkg/models"
	"Parley/pkg/store"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("conversation closed")

// pendingSend tracks one optimistic message awaiting server confirmation.
// Registry insertion order is send order, which both the matching heuristic
// and the ghost-clearing rule rely on.
type pendingSend struct {
	tempID        string
	correlationID string
	msgType       models.MessageType
	content       string
	createdAt     time.Time
}

// Engine is the reconciliation engine for one open conversation. Every
// inbound event and timer tick is funneled onto a single event loop and
// applied to completion before the next, so observers never see partial
// mutation state; correctness otherwise rests on per-operation idempotence.
type Engine struct {
	conv   models.Conversation
	selfID string
	opts   Options

	transport core.Transport
	api       core.MessageAPI
	store     *store.Store
	log       *logging.Logger

	presence *PresenceTracker
	typing   *TypingCoordinator
	pager    *Paginator
	timers   *timerSet

	pending *orderedmap.OrderedMap[string, pendingSend]

	inbound    chan func()
	events     chan core.Event
	done       chan struct{}
	unsubs     []func()
	storeUnsub func()
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewEngine creates an engine for one conversation. The transport and API are
// injected collaborators; their connection lifecycle belongs to the caller.
func NewEngine(conv models.Conversation, selfID string, transport core.Transport, api core.MessageAPI, opts Options, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	opts = opts.normalized()

	e := &Engine{
		conv:      conv,
		selfID:    selfID,
		opts:      opts,
		transport: transport,
		api:       api,
		store:     store.New(conv.ID),
		log:       logger,
		timers:    newTimerSet(),
		pending:   orderedmap.NewOrderedMap[string, pendingSend](),
		inbound:   make(chan func(), 256),
		events:    make(chan core.Event, 64),
		done:      make(chan struct{}),
	}

	e.pager = newPaginator(conv.ID, api, e.store, opts.PageSize)
	e.typing = newTypingCoordinator(conv.ID, selfID, transport, e.timers, e.emitEvent, opts, logger)
	if conv.IsDirect() {
		e.presence = newPresenceTracker(conv.PeerID(selfID), transport, e.timers, e.emitEvent, opts, logger)
	}

	return e
}

// Start subscribes to the transport, loads the first history page, and starts
// the event loop, the staleness sweep, and presence tracking.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.subscribeAll(); err != nil {
		e.unsubscribeAll()
		return err
	}

	e.storeUnsub = e.store.Subscribe(func() {
		e.emitEvent(core.MessagesChangedEvent{ConversationID: e.conv.ID})
	})

	e.wg.Add(1)
	go e.loop()

	e.timers.Every("staleness_sweep", e.opts.SweepInterval, func() {
		e.enqueue(e.sweepStale)
	})

	if e.presence != nil {
		e.presence.start()
	}

	// Initial fill. A failed fetch is not fatal: live events still apply, and
	// the user can retry via LoadMore.
	if _, err := e.pager.LoadMore(ctx); err != nil && !errors.Is(err, ErrNoMore) {
		e.log.Warnf("initial history load failed: %v", err)
	}

	return nil
}

// Close synchronously unsubscribes every transport handler, cancels every
// timer, and stops the event loop. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.unsubscribeAll()
		e.timers.StopAll()
		e.typing.close()
		if e.storeUnsub != nil {
			e.storeUnsub()
		}
		close(e.done)
		e.wg.Wait()
	})
	return nil
}

// Events returns the engine-to-UI notification channel. It is never closed;
// consumers should also select on Done.
func (e *Engine) Events() <-chan core.Event {
	return e.events
}

// Done is closed when the engine has shut down.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Store exposes the underlying message store for direct reads.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Messages returns the current ordered view.
func (e *Engine) Messages() []models.Message {
	return e.store.OrderedView()
}

// Conversation returns the conversation this engine synchronizes.
func (e *Engine) Conversation() models.Conversation {
	return e.conv
}

// Typing exposes the typing coordinator for UI keystroke forwarding.
func (e *Engine) Typing() *TypingCoordinator {
	return e.typing
}

// PeerOnline reports the direct peer's last known online state; always false
// for group conversations.
func (e *Engine) PeerOnline() bool {
	if e.presence == nil {
		return false
	}
	return e.presence.Online()
}

// LoadMore fetches and merges the next older history page.
func (e *Engine) LoadMore(ctx context.Context) (int, error) {
	return e.pager.LoadMore(ctx)
}

// HasMore reports whether older history may remain on the server.
func (e *Engine) HasMore() bool {
	return e.pager.HasMore()
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.inbound:
			task()
		case <-e.done:
			return
		}
	}
}

// enqueue schedules a task on the event loop. Returns false once the engine
// is closed.
func (e *Engine) enqueue(task func()) bool {
	select {
	case e.inbound <- task:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) emitEvent(ev core.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warnf("dropping UI event %s: queue full", ev.Type())
	}
}

// subscribeAll registers a transport handler per consumed event. Handlers only
// decode and enqueue; all state changes happen on the loop.
func (e *Engine) subscribeAll() error {
	subs := map[string]func(json.RawMessage){
		core.EventNewMessage:           e.onNewMessage,
		core.EventMessageStatusUpdate:  e.onStatusUpdate,
		core.EventConversationRead:     e.onConversationRead,
		core.EventMessageEdited:        e.onMessageEdited,
		core.EventMessageDeleted:       e.onMessageDeleted,
		core.EventTyping:               e.onTyping,
		core.EventUserOnline:           e.onUserOnline,
		core.EventUserOffline:          e.onUserOffline,
		core.EventUserOnlineStatus:     e.onUserOnlineStatus,
		core.EventMessageReactionAdded: e.onReactionAdded,
		core.EventMessageReactionGone:  e.onReactionRemoved,
	}

	for event, fn := range subs {
		handler := fn
		unsub, err := e.transport.Subscribe(event, func(payload json.RawMessage) {
			e.enqueue(func() { handler(payload) })
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", event, err)
		}
		e.unsubs = append(e.unsubs, unsub)
	}
	return nil
}

func (e *Engine) unsubscribeAll() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
}

// --- Inbound event handlers (run on the loop) ---

func (e *Engine) onNewMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.log.Warnf("dropping malformed new_message: %v", err)
		return
	}
	if msg.ID == "" || msg.ConversationID != e.conv.ID {
		e.log.Debugf("dropping irrelevant new_message id=%q conv=%q", msg.ID, msg.ConversationID)
		return
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}

	if msg.SenderID == e.selfID {
		e.confirmOwnMessage(msg)
		return
	}
	// Peer message: plain upsert; duplicates collapse on id.
	e.store.Upsert(msg)
}

// confirmOwnMessage reconciles a server-confirmed copy of our own message
// with the optimistic pending entries. Matching prefers the echoed
// correlation id; without one it falls back to the content heuristic. On a
// match, the matched entry and every older pending entry are removed before
// the confirmed message is upserted, clearing ghosts from retried sends.
func (e *Engine) confirmOwnMessage(msg models.Message) {
	matched := ""

	if msg.CorrelationID != "" {
		for el := e.pending.Front(); el != nil; el = el.Next() {
			if el.Value.correlationID == msg.CorrelationID {
				matched = el.Key
				break
			}
		}
	}

	if matched == "" && msg.CorrelationID == "" {
		// Newest first: same type, same content, within the bounded window.
		ref := msg.CreatedAt
		if ref.IsZero() {
			ref = time.Now()
		}
		for el := e.pending.Back(); el != nil; el = el.Prev() {
			p := el.Value
			if p.msgType != msg.Type || p.content != msg.Content {
				continue
			}
			age := ref.Sub(p.createdAt)
			if age < 0 {
				age = -age
			}
			if age <= e.opts.PendingTTL {
				matched = el.Key
				break
			}
		}
	}

	if matched != "" {
		for el := e.pending.Front(); el != nil; {
			next := el.Next()
			tempID := el.Key
			e.pending.Delete(tempID)
			e.store.Remove(tempID)
			if tempID == matched {
				break
			}
			el = next
		}
	}

	if !msg.Status.AtLeast(models.StatusSent) {
		msg.Status = models.StatusSent
	}
	e.store.Upsert(msg)
}

func (e *Engine) onStatusUpdate(payload json.RawMessage) {
	var p core.StatusUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed message_status_update: %v", err)
		return
	}
	if p.ConversationID != e.conv.ID || p.MessageID == "" {
		return
	}
	e.store.MarkStatus(p.MessageID, models.MessageStatus(p.Status))
}

func (e *Engine) onConversationRead(payload json.RawMessage) {
	var p core.ConversationReadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed conversation_messages_read: %v", err)
		return
	}
	if p.ConversationID != e.conv.ID {
		return
	}
	// The peer read everything: advance all of our sent/delivered messages.
	targets := lo.Filter(e.store.OrderedView(), func(m models.Message, _ int) bool {
		return m.SenderID == e.selfID &&
			(m.Status == models.StatusSent || m.Status == models.StatusDelivered)
	})
	for _, m := range targets {
		e.store.MarkStatus(m.ID, models.StatusRead)
	}
}

func (e *Engine) onMessageEdited(payload json.RawMessage) {
	var p core.MessageEditedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed message_edited: %v", err)
		return
	}
	if p.ConversationID != e.conv.ID {
		return
	}
	existing, ok := e.store.Get(p.MessageID)
	if !ok {
		// Not loaded into this view; the next page load carries current state.
		e.log.Debugf("edit for unknown message %s dropped", p.MessageID)
		return
	}
	// The event's own timestamp resolves racing edits, not arrival time.
	if existing.EditedAt != nil && !p.EditedAt.After(*existing.EditedAt) {
		e.log.Debugf("stale edit for %s dropped", p.MessageID)
		return
	}

	edited := existing
	edited.Content = p.Content
	edited.EditedAt = &p.EditedAt
	edited.UpdatedAt = p.EditedAt
	e.store.Upsert(edited)
}

func (e *Engine) onMessageDeleted(payload json.RawMessage) {
	var p core.MessageDeletedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed message_deleted: %v", err)
		return
	}
	if p.ConversationID != e.conv.ID {
		return
	}

	if p.ForEveryone {
		deletedAt := p.DeletedAt
		if deletedAt.IsZero() {
			deletedAt = time.Now()
		}
		e.store.Tombstone(p.MessageID, deletedAt)
		return
	}
	// Delete-for-me only affects the acting client's own view.
	if p.DeletedBy == e.selfID {
		e.store.Remove(p.MessageID)
		return
	}
	e.log.Debugf("delete-for-me by %s ignored", p.DeletedBy)
}

func (e *Engine) onTyping(payload json.RawMessage) {
	var p core.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed typing event: %v", err)
		return
	}
	if p.ConversationID != e.conv.ID {
		return
	}
	e.typing.HandleRemote(p.UserID, p.IsTyping)
}

func (e *Engine) onUserOnline(payload json.RawMessage) {
	if e.presence == nil {
		return
	}
	var p core.PresencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed user_online: %v", err)
		return
	}
	e.presence.HandleBroadcast(p.UserID, true, nil)
}

func (e *Engine) onUserOffline(payload json.RawMessage) {
	if e.presence == nil {
		return
	}
	var p core.PresencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed user_offline: %v", err)
		return
	}
	e.presence.HandleBroadcast(p.UserID, false, p.LastSeen)
}

func (e *Engine) onUserOnlineStatus(payload json.RawMessage) {
	if e.presence == nil {
		return
	}
	var p core.OnlineStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed user_online_status: %v", err)
		return
	}
	e.presence.HandleDirect(p)
}

func (e *Engine) onReactionAdded(payload json.RawMessage) {
	e.applyReactionEvent(payload, true)
}

func (e *Engine) onReactionRemoved(payload json.RawMessage) {
	e.applyReactionEvent(payload, false)
}

func (e *Engine) applyReactionEvent(payload json.RawMessage, add bool) {
	var p core.ReactionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.log.Warnf("dropping malformed reaction event: %v", err)
		return
	}
	if p.ConversationID != e.conv.ID || p.MessageID == "" {
		return
	}
	e.store.ApplyReaction(p.MessageID, p.UserID, p.Emoji, add)
}

// sweepStale removes pending messages past the confirmation deadline and
// surfaces each one as a failed send. Sends are never retried automatically.
func (e *Engine) sweepStale() {
	cutoff := time.Now().Add(-e.opts.PendingTTL)
	for el := e.pending.Front(); el != nil; {
		next := el.Next()
		p := el.Value
		if p.createdAt.Before(cutoff) {
			e.pending.Delete(el.Key)
			if msg, ok := e.store.Get(p.tempID); ok {
				e.store.Remove(p.tempID)
				msg.Status = models.StatusFailed
				e.emitEvent(core.SendFailedEvent{Message: msg})
				e.log.Infof("pending message %s never confirmed, marked failed", p.tempID)
			}
		}
		el = next
	}
}

// --- Outbound operations ---

// SendText sends a plain text message.
func (e *Engine) SendText(content string, replyTo *models.ReplyRef) (models.Message, error) {
	return e.Send(content, models.MessageTypeText, "", replyTo)
}

// Send creates an optimistic pending message, registers it for confirmation
// matching, and emits send_message with a correlation id the server can echo
// back. The returned message carries the temporary id.
func (e *Engine) Send(content string, msgType models.MessageType, mediaURL string, replyTo *models.ReplyRef) (models.Message, error) {
	now := time.Now()
	msg := models.Message{
		ID:             models.NewTempID(),
		ConversationID: e.conv.ID,
		SenderID:       e.selfID,
		Type:           msgType,
		Content:        content,
		URL:            mediaURL,
		ReplyTo:        replyTo,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		CorrelationID:  uuid.NewString(),
	}

	payload := core.SendMessagePayload{
		ConversationID: e.conv.ID,
		Content:        content,
		MediaURL:       mediaURL,
		MessageType:    string(msgType),
		CorrelationID:  msg.CorrelationID,
	}
	if replyTo != nil {
		payload.ReplyToMessageID = &replyTo.MessageID
	}

	ok := e.enqueue(func() {
		e.store.Upsert(msg)
		e.pending.Set(msg.ID, pendingSend{
			tempID:        msg.ID,
			correlationID: msg.CorrelationID,
			msgType:       msgType,
			content:       content,
			createdAt:     now,
		})
		if err := e.transport.Emit(core.EventSendMessage, payload); err != nil {
			// Leave the message pending; the sweep will fail it if no
			// confirmation ever arrives.
			e.log.Warnf("failed to emit send_message: %v", err)
		}
	})
	if !ok {
		return models.Message{}, ErrClosed
	}
	return msg, nil
}

// applySnapshot routes a REST-returned message snapshot through the same
// upsert path as transport events.
func (e *Engine) applySnapshot(snap *models.Message) {
	if snap == nil || snap.ID == "" {
		return
	}
	msg := *snap
	e.enqueue(func() { e.store.Upsert(msg) })
}

// EditMessage edits a message through the REST API and merges the returned
// snapshot.
func (e *Engine) EditMessage(ctx context.Context, messageID, content string) error {
	snap, err := e.api.EditMessage(ctx, e.conv.ID, messageID, content)
	if err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	e.applySnapshot(snap)
	return nil
}

// DeleteMessage deletes a message through the REST API. Delete-for-everyone
// leaves a tombstone in place; delete-for-me removes the entry from this
// client's view only.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	snap, err := e.api.DeleteMessage(ctx, e.conv.ID, messageID, forEveryone)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	e.enqueue(func() {
		if forEveryone {
			e.store.Tombstone(messageID, time.Now())
			if snap != nil {
				e.store.Upsert(*snap)
			}
		} else {
			e.store.Remove(messageID)
		}
	})
	return nil
}

// StarMessage sets or clears the star flag through the REST API.
func (e *Engine) StarMessage(ctx context.Context, messageID string, starred bool) error {
	snap, err := e.api.StarMessage(ctx, e.conv.ID, messageID, starred)
	if err != nil {
		return fmt.Errorf("failed to star message %s: %w", messageID, err)
	}
	e.applySnapshot(snap)
	return nil
}

// AddReaction applies the reaction optimistically, emits message_reaction,
// and merges the REST snapshot. All three paths are idempotent on
// (messageID, userID, emoji).
func (e *Engine) AddReaction(ctx context.Context, messageID, emoji string) error {
	return e.react(ctx, messageID, emoji, true)
}

// RemoveReaction removes this user's reaction.
func (e *Engine) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	return e.react(ctx, messageID, emoji, false)
}

func (e *Engine) react(ctx context.Context, messageID, emoji string, add bool) error {
	e.enqueue(func() { e.store.ApplyReaction(messageID, e.selfID, emoji, add) })

	action := core.ReactionAdd
	if !add {
		action = core.ReactionRemove
	}
	err := e.transport.Emit(core.EventMessageReaction, core.MessageReactionPayload{
		MessageID:      messageID,
		ConversationID: e.conv.ID,
		Emoji:          emoji,
		Action:         action,
	})
	if err != nil {
		e.log.Warnf("failed to emit message_reaction: %v", err)
	}

	var snap *models.Message
	if add {
		snap, err = e.api.AddReaction(ctx, e.conv.ID, messageID, emoji)
	} else {
		snap, err = e.api.RemoveReaction(ctx, e.conv.ID, messageID, emoji)
	}
	if err != nil {
		return fmt.Errorf("failed to update reaction on %s: %w", messageID, err)
	}
	e.applySnapshot(snap)
	return nil
}

// MarkMessageRead tells the server this client read one message.
func (e *Engine) MarkMessageRead(messageID string) error {
	err := e.transport.Emit(core.EventMessageRead, core.MessageReadPayload{
		MessageID:      messageID,
		ConversationID: e.conv.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to emit message_read: %w", err)
	}
	return nil
}

// MarkConversationRead tells the server this client read the whole
// conversation.
func (e *Engine) MarkConversationRead(ctx context.Context) error {
	if err := e.api.MarkRead(ctx, e.conv.ID); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// Flush blocks until every task enqueued before the call has been processed.
func (e *Engine) Flush() {
	done := make(chan struct{})
	if !e.enqueue(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-e.done:
	}
}
