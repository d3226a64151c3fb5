package conversation

import (
	"sync"
	"time"

	"Parley/pkg/core"
	"Parley/pkg/logging"
)

// PresenceTracker resolves and follows the online status of the direct peer.
// On open it probes with check_user_online; the first of the direct response
// or a broadcast presence event for the peer wins the probe, and a bounded
// timeout closes the probe if neither arrives. A background re-poll keeps the
// status fresh while the conversation stays open.
type PresenceTracker struct {
	peerID    string
	transport core.Transport
	timers    *timerSet
	emit      func(core.Event)
	log       *logging.Logger

	timeout time.Duration
	poll    time.Duration

	mu        sync.Mutex
	online    bool
	known     bool
	lastSeen  *time.Time
	probeOpen bool
}

func newPresenceTracker(peerID string, transport core.Transport, timers *timerSet, emit func(core.Event), opts Options, log *logging.Logger) *PresenceTracker {
	return &PresenceTracker{
		peerID:    peerID,
		transport: transport,
		timers:    timers,
		emit:      emit,
		log:       log,
		timeout:   opts.PresenceTimeout,
		poll:      opts.PresencePoll,
	}
}

// start issues the initial probe and arms the re-poll ticker.
func (p *PresenceTracker) start() {
	p.probe()
	p.timers.Every("presence_poll", p.poll, p.probe)
}

func (p *PresenceTracker) probe() {
	p.mu.Lock()
	p.probeOpen = true
	p.mu.Unlock()

	err := p.transport.Emit(core.EventCheckUserOnline, core.CheckOnlinePayload{UserID: p.peerID})
	if err != nil {
		p.log.Warnf("failed to emit check_user_online for %s: %v", p.peerID, err)
	}

	p.timers.After("presence_probe", p.timeout, p.probeTimeout)
}

func (p *PresenceTracker) probeTimeout() {
	p.mu.Lock()
	open := p.probeOpen
	p.probeOpen = false
	p.mu.Unlock()
	if open {
		p.log.Debugf("presence probe for %s timed out", p.peerID)
	}
}

// HandleDirect applies a user_online_status response. It only counts if it is
// for the tracked peer.
func (p *PresenceTracker) HandleDirect(payload core.OnlineStatusPayload) {
	if payload.UserID != p.peerID {
		return
	}
	p.resolve(payload.IsOnline, toTime(payload.LastSeen))
}

// HandleBroadcast applies a user_online or user_offline broadcast. When a
// probe is outstanding, whichever of broadcast and direct response arrives
// first settles it; the loser becomes a harmless duplicate.
func (p *PresenceTracker) HandleBroadcast(userID string, online bool, lastSeen *int64) {
	if userID != p.peerID {
		return
	}
	p.resolve(online, toTime(lastSeen))
}

func (p *PresenceTracker) resolve(online bool, lastSeen *time.Time) {
	p.mu.Lock()
	settledProbe := p.probeOpen
	p.probeOpen = false
	changed := !p.known || p.online != online
	p.known = true
	p.online = online
	if lastSeen != nil {
		p.lastSeen = lastSeen
	}
	seen := p.lastSeen
	p.mu.Unlock()

	if settledProbe {
		p.timers.Stop("presence_probe")
	}
	if changed {
		p.emit(core.PresenceEvent{UserID: p.peerID, IsOnline: online, LastSeen: seen})
	}
}

// Online reports the last resolved status; false until the first probe or
// broadcast settles.
func (p *PresenceTracker) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// LastSeen returns the peer's last-seen time when the server reported one.
func (p *PresenceTracker) LastSeen() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func toTime(unix *int64) *time.Time {
	if unix == nil || *unix == 0 {
		return nil
	}
	t := time.Unix(*unix, 0)
	return &t
}
