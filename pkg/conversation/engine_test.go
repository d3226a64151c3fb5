package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"Parley/pkg/core"
	"Parley/pkg/models"
)

// TestSendCreatesSinglePending verifies the optimistic path: exactly one
// pending entry, with the send_message emission carrying a correlation id.
func TestSendCreatesSinglePending(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	sent, err := e.SendText("hi", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	e.Flush()

	if !sent.IsTemp() {
		t.Fatalf("expected temp id, got %s", sent.ID)
	}
	if e.Store().Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", e.Store().Len())
	}
	pending := e.Store().Pending(testSelfID)
	if len(pending) != 1 || pending[0].Status != models.StatusPending {
		t.Fatalf("unexpected pending set: %v", pending)
	}

	emits := mock.EmittedNamed(core.EventSendMessage)
	if len(emits) != 1 {
		t.Fatalf("expected 1 send_message emit, got %d", len(emits))
	}
	var payload core.SendMessagePayload
	if err := json.Unmarshal(emits[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CorrelationID == "" || payload.Content != "hi" {
		t.Fatalf("bad send payload: %+v", payload)
	}
}

// TestConfirmationReplacesPending runs the canonical scenario: temp_ pending,
// then new_message{srv_9} from self; the final state is exactly one entry with
// the server id and StatusSent.
func TestConfirmationReplacesPending(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	if _, err := e.SendText("Hello", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	e.Flush()

	var payload core.SendMessagePayload
	if err := json.Unmarshal(mock.EmittedNamed(core.EventSendMessage)[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	confirmed := models.Message{
		ID:             "srv_9",
		ConversationID: testConvID,
		SenderID:       testSelfID,
		Type:           models.MessageTypeText,
		Content:        "Hello",
		CorrelationID:  payload.CorrelationID,
		CreatedAt:      time.Now(),
	}
	if err := mock.Inject(core.EventNewMessage, confirmed); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	view := e.Messages()
	if len(view) != 1 {
		t.Fatalf("pending and confirmed coexist: %d entries", len(view))
	}
	got := view[0]
	if got.ID != "srv_9" || got.Status != models.StatusSent {
		t.Fatalf("unexpected final state: id=%s status=%s", got.ID, got.Status)
	}
	if got.IsTemp() {
		t.Fatal("temp entry survived confirmation")
	}
}

// TestHeuristicConfirmationClearsGhosts confirms without a correlation id:
// the newest content-matching pending wins and every older pending entry is
// cleared with it.
func TestHeuristicConfirmationClearsGhosts(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	// Two identical retried sends produce two pending ghosts.
	if _, err := e.SendText("hi", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if _, err := e.SendText("hi", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	e.Flush()
	if e.Store().Len() != 2 {
		t.Fatalf("expected 2 pending, got %d", e.Store().Len())
	}

	confirmed := models.Message{
		ID:             "srv_1",
		ConversationID: testConvID,
		SenderID:       testSelfID,
		Type:           models.MessageTypeText,
		Content:        "hi",
		CreatedAt:      time.Now(),
	}
	if err := mock.Inject(core.EventNewMessage, confirmed); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	view := e.Messages()
	if len(view) != 1 || view[0].ID != "srv_1" {
		t.Fatalf("ghosts not cleared: %v", view)
	}
}

// TestPeerMessageDeduplicated injects the same peer message twice.
func TestPeerMessageDeduplicated(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	msg := peerMessage("p1", time.Now(), "hey")
	for i := 0; i < 2; i++ {
		if err := mock.Inject(core.EventNewMessage, msg); err != nil {
			t.Fatalf("Inject: %v", err)
		}
	}
	e.Flush()

	if e.Store().Len() != 1 {
		t.Fatalf("duplicate not suppressed: %d entries", e.Store().Len())
	}
}

// TestWrongConversationDropped verifies irrelevant events never touch the
// store.
func TestWrongConversationDropped(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	msg := peerMessage("p1", time.Now(), "hey")
	msg.ConversationID = "other-conv"
	if err := mock.Inject(core.EventNewMessage, msg); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	if e.Store().Len() != 0 {
		t.Fatal("event for another conversation was applied")
	}
}

// TestMalformedEventDropped verifies undecodable payloads are swallowed.
func TestMalformedEventDropped(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	if err := mock.Inject(core.EventNewMessage, "not an object"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	if e.Store().Len() != 0 {
		t.Fatal("malformed event was applied")
	}
}

// TestEditApplied merges an edit into a loaded message.
func TestEditApplied(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	created := time.Now()
	if err := mock.Inject(core.EventNewMessage, peerMessage("p1", created, "before")); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	edit := core.MessageEditedPayload{
		MessageID:      "p1",
		ConversationID: testConvID,
		Content:        "after",
		EditedAt:       created.Add(time.Minute),
	}
	if err := mock.Inject(core.EventMessageEdited, edit); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	got, _ := e.Store().Get("p1")
	if got.Content != "after" || got.EditedAt == nil {
		t.Fatalf("edit not applied: %+v", got)
	}
}

// TestStaleEditDropped verifies the event's own timestamp decides racing
// edits, not arrival order.
func TestStaleEditDropped(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	created := time.Now()
	if err := mock.Inject(core.EventNewMessage, peerMessage("p1", created, "v1")); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	newer := core.MessageEditedPayload{
		MessageID: "p1", ConversationID: testConvID,
		Content: "v3", EditedAt: created.Add(2 * time.Minute),
	}
	older := core.MessageEditedPayload{
		MessageID: "p1", ConversationID: testConvID,
		Content: "v2", EditedAt: created.Add(time.Minute),
	}
	if err := mock.Inject(core.EventMessageEdited, newer); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if err := mock.Inject(core.EventMessageEdited, older); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	got, _ := e.Store().Get("p1")
	if got.Content != "v3" {
		t.Fatalf("stale edit overwrote newer state: %q", got.Content)
	}
}

// TestEditUnknownMessageDropped verifies edits for ids not loaded into this
// view are ignored.
func TestEditUnknownMessageDropped(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	edit := core.MessageEditedPayload{
		MessageID: "never-loaded", ConversationID: testConvID,
		Content: "x", EditedAt: time.Now(),
	}
	if err := mock.Inject(core.EventMessageEdited, edit); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	if e.Store().Len() != 0 {
		t.Fatal("edit for unknown id created an entry")
	}
}

// TestDeleteForEveryoneTombstones converts the target into a tombstone while
// preserving its siblings' positions.
func TestDeleteForEveryoneTombstones(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	base := time.Now()
	for i, id := range []string{"p1", "p2", "p3"} {
		msg := peerMessage(id, base.Add(time.Duration(i)*time.Second), "m")
		if err := mock.Inject(core.EventNewMessage, msg); err != nil {
			t.Fatalf("Inject: %v", err)
		}
	}

	del := core.MessageDeletedPayload{
		MessageID: "p2", ConversationID: testConvID,
		DeletedBy: testPeerID, ForEveryone: true, DeletedAt: base.Add(time.Minute),
	}
	if err := mock.Inject(core.EventMessageDeleted, del); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	view := e.Messages()
	if len(view) != 3 {
		t.Fatalf("tombstoning changed length: %d", len(view))
	}
	if view[1].ID != "p2" || !view[1].IsTombstone() || view[1].Content != "" {
		t.Fatalf("expected tombstone at position 1: %+v", view[1])
	}
}

// TestDeleteForMe removes the entry only when this client acted.
func TestDeleteForMe(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	if err := mock.Inject(core.EventNewMessage, peerMessage("p1", time.Now(), "m")); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	// Another client's delete-for-me must not touch our view.
	byPeer := core.MessageDeletedPayload{
		MessageID: "p1", ConversationID: testConvID,
		DeletedBy: testPeerID, ForEveryone: false,
	}
	if err := mock.Inject(core.EventMessageDeleted, byPeer); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()
	if e.Store().Len() != 1 {
		t.Fatal("peer's delete-for-me removed our entry")
	}

	bySelf := core.MessageDeletedPayload{
		MessageID: "p1", ConversationID: testConvID,
		DeletedBy: testSelfID, ForEveryone: false,
	}
	if err := mock.Inject(core.EventMessageDeleted, bySelf); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()
	if e.Store().Len() != 0 {
		t.Fatal("own delete-for-me did not remove the entry")
	}
}

// TestConversationReadAdvancesOwnMessages marks all of our sent/delivered
// messages read when the peer reads the conversation.
func TestConversationReadAdvancesOwnMessages(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	base := time.Now()
	mine := models.Message{
		ID: "m1", ConversationID: testConvID, SenderID: testSelfID,
		Type: models.MessageTypeText, Content: "a",
		Status: models.StatusDelivered, CreatedAt: base, UpdatedAt: base,
	}
	if err := mock.Inject(core.EventNewMessage, mine); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	theirs := peerMessage("p1", base.Add(time.Second), "b")
	if err := mock.Inject(core.EventNewMessage, theirs); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	read := core.ConversationReadPayload{
		ConversationID: testConvID, ReaderID: testPeerID, Timestamp: base.Add(time.Minute),
	}
	if err := mock.Inject(core.EventConversationRead, read); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	got, _ := e.Store().Get("m1")
	if got.Status != models.StatusRead {
		t.Fatalf("own message not advanced: %s", got.Status)
	}
	other, _ := e.Store().Get("p1")
	if other.Status != models.StatusSent {
		t.Fatalf("peer message status changed: %s", other.Status)
	}
}

// TestReactionEventsIdempotent verifies repeated identical reaction events
// are no-ops.
func TestReactionEventsIdempotent(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	if err := mock.Inject(core.EventNewMessage, peerMessage("p1", time.Now(), "m")); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	add := core.ReactionPayload{
		MessageID: "p1", ConversationID: testConvID, UserID: testPeerID, Emoji: "❤️",
	}
	for i := 0; i < 3; i++ {
		if err := mock.Inject(core.EventMessageReactionAdded, add); err != nil {
			t.Fatalf("Inject: %v", err)
		}
	}
	e.Flush()

	got, _ := e.Store().Get("p1")
	if len(got.Reactions) != 1 {
		t.Fatalf("expected 1 reaction, got %d", len(got.Reactions))
	}

	if err := mock.Inject(core.EventMessageReactionGone, add); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()
	got, _ = e.Store().Get("p1")
	if len(got.Reactions) != 0 {
		t.Fatal("reaction not removed")
	}
}

// TestStalenessSweepFailsUnconfirmedSend shrinks the sweep timings and
// expects the pending entry to be removed and surfaced as a failed send.
func TestStalenessSweepFailsUnconfirmedSend(t *testing.T) {
	opts := DefaultOptions()
	opts.PendingTTL = 40 * time.Millisecond
	opts.SweepInterval = 15 * time.Millisecond
	e, _ := startEngine(t, opts, nil)

	if _, err := e.SendText("lost", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	e.Flush()

	ev := awaitEvent(t, e, core.EventTypeSendFailed, time.Second)
	failed := ev.(core.SendFailedEvent)
	if failed.Message.Status != models.StatusFailed || failed.Message.Content != "lost" {
		t.Fatalf("unexpected failure payload: %+v", failed.Message)
	}

	e.Flush()
	if e.Store().Len() != 0 {
		t.Fatalf("swept message still in store: %d entries", e.Store().Len())
	}
}

// TestLateConfirmationAfterSweepStillMerges verifies a confirmation arriving
// after the sweep is applied as a plain upsert.
func TestLateConfirmationAfterSweepStillMerges(t *testing.T) {
	opts := DefaultOptions()
	opts.PendingTTL = 30 * time.Millisecond
	opts.SweepInterval = 10 * time.Millisecond
	e, mock := startEngine(t, opts, nil)

	if _, err := e.SendText("late", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	awaitEvent(t, e, core.EventTypeSendFailed, time.Second)

	confirmed := models.Message{
		ID: "srv_late", ConversationID: testConvID, SenderID: testSelfID,
		Type: models.MessageTypeText, Content: "late", CreatedAt: time.Now(),
	}
	if err := mock.Inject(core.EventNewMessage, confirmed); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	view := e.Messages()
	if len(view) != 1 || view[0].ID != "srv_late" || view[0].Status != models.StatusSent {
		t.Fatalf("late confirmation not merged: %v", view)
	}
}

// TestCloseUnsubscribesEverything verifies a closed engine leaves no
// transport handlers behind.
func TestCloseUnsubscribesEverything(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, event := range []string{
		core.EventNewMessage, core.EventMessageStatusUpdate, core.EventConversationRead,
		core.EventMessageEdited, core.EventMessageDeleted, core.EventTyping,
		core.EventUserOnline, core.EventUserOffline, core.EventUserOnlineStatus,
		core.EventMessageReactionAdded, core.EventMessageReactionGone,
	} {
		if n := mock.SubscriberCount(event); n != 0 {
			t.Fatalf("%s still has %d handlers after close", event, n)
		}
	}

	if _, err := e.SendText("after close", nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// TestStatusUpdateEvent advances one message's status.
func TestStatusUpdateEvent(t *testing.T) {
	e, mock := startEngine(t, DefaultOptions(), nil)

	mine := models.Message{
		ID: "m1", ConversationID: testConvID, SenderID: testSelfID,
		Type: models.MessageTypeText, Status: models.StatusSent,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := mock.Inject(core.EventNewMessage, mine); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	update := core.StatusUpdatePayload{
		MessageID: "m1", ConversationID: testConvID,
		Status: string(models.StatusDelivered), Timestamp: time.Now(),
	}
	if err := mock.Inject(core.EventMessageStatusUpdate, update); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	e.Flush()

	got, _ := e.Store().Get("m1")
	if got.Status != models.StatusDelivered {
		t.Fatalf("status not advanced: %s", got.Status)
	}
}
