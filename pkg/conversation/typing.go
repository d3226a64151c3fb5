package conversation

import (
	"sync"
	"time"

	"github.com/bep/debounce"

	"Parley/pkg/core"
	"Parley/pkg/logging"
)

// TypingCoordinator handles both directions of the typing indicator for one
// conversation. Locally, the first keystroke emits typing:true immediately and
// a debounced idle timer emits typing:false once the user stops. Remotely, a
// peer's typing flag self-expires if the peer's typing:false never arrives.
type TypingCoordinator struct {
	conversationID string
	selfID         string
	transport      core.Transport
	timers         *timerSet
	emit           func(core.Event)
	log            *logging.Logger

	idle   time.Duration
	expiry time.Duration

	debounced func(func())

	mu          sync.Mutex
	localTyping bool
	remote      map[string]bool
}

func newTypingCoordinator(conversationID, selfID string, transport core.Transport, timers *timerSet, emit func(core.Event), opts Options, log *logging.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		conversationID: conversationID,
		selfID:         selfID,
		transport:      transport,
		timers:         timers,
		emit:           emit,
		log:            log,
		idle:           opts.TypingIdle,
		expiry:         opts.TypingExpiry,
		debounced:      debounce.New(opts.TypingIdle),
		remote:         make(map[string]bool),
	}
}

// InputActivity records one local keystroke. The first keystroke of a burst
// emits typing:true; each call pushes the idle deadline out, and when it
// finally fires typing:false is emitted.
func (t *TypingCoordinator) InputActivity() {
	t.mu.Lock()
	first := !t.localTyping
	t.localTyping = true
	t.mu.Unlock()

	if first {
		t.sendTyping(true)
	}
	t.debounced(t.stopLocal)
}

func (t *TypingCoordinator) stopLocal() {
	t.mu.Lock()
	if !t.localTyping {
		t.mu.Unlock()
		return
	}
	t.localTyping = false
	t.mu.Unlock()

	t.sendTyping(false)
}

func (t *TypingCoordinator) sendTyping(isTyping bool) {
	err := t.transport.Emit(core.EventTyping, core.TypingPayload{
		ConversationID: t.conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		t.log.Warnf("failed to emit typing=%v: %v", isTyping, err)
	}
}

// HandleRemote applies an inbound typing event from a peer. A typing:true flag
// is armed to expire on its own, guarding against a lost typing:false.
func (t *TypingCoordinator) HandleRemote(userID string, isTyping bool) {
	if userID == t.selfID {
		return
	}

	t.mu.Lock()
	was := t.remote[userID]
	if isTyping {
		t.remote[userID] = true
	} else {
		delete(t.remote, userID)
	}
	t.mu.Unlock()

	timerName := "typing_expiry:" + userID
	if isTyping {
		t.timers.After(timerName, t.expiry, func() { t.expireRemote(userID) })
	} else {
		t.timers.Stop(timerName)
	}

	if was != isTyping {
		t.emit(core.TypingEvent{
			ConversationID: t.conversationID,
			UserID:         userID,
			IsTyping:       isTyping,
		})
	}
}

func (t *TypingCoordinator) expireRemote(userID string) {
	t.mu.Lock()
	if !t.remote[userID] {
		t.mu.Unlock()
		return
	}
	delete(t.remote, userID)
	t.mu.Unlock()

	t.emit(core.TypingEvent{
		ConversationID: t.conversationID,
		UserID:         userID,
		IsTyping:       false,
	})
}

// PeerTyping reports whether the given peer is currently typing.
func (t *TypingCoordinator) PeerTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote[userID]
}

// AnyTyping reports whether any peer is currently typing.
func (t *TypingCoordinator) AnyTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.remote) > 0
}

// close sends a final typing:false if a burst was in progress. Timers are
// released by the session's shared timer set.
func (t *TypingCoordinator) close() {
	t.mu.Lock()
	wasTyping := t.localTyping
	t.localTyping = false
	t.remote = make(map[string]bool)
	t.mu.Unlock()

	if wasTyping {
		t.sendTyping(false)
	}
}
