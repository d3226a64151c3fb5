// Package parley wires the synchronization engine to its collaborators and
// manages the set of open conversations.
package parley

import (
	"context"
	"fmt"
	"sync"

	"Parley/pkg/conversation"
	"Parley/pkg/core"
	"Parley/pkg/db"
	"Parley/pkg/logging"
	"Parley/pkg/models"
)

// App owns one transport and one REST client and keeps one engine per open
// conversation. The UI layer opens a conversation, reads the engine's ordered
// view, consumes App.Events, and closes the conversation when it navigates
// away; closing tears down every subscription and timer synchronously.
type App struct {
	selfID    string
	transport core.Transport
	api       core.MessageAPI
	cache     *db.Cache
	opts      conversation.Options
	log       *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	events chan core.Event
}

type session struct {
	engine *conversation.Engine
	stop   chan struct{}
}

// Option configures the App.
type Option func(*App)

// WithCache attaches a local message cache. Cached messages seed newly opened
// conversations and every confirmed message is written through.
func WithCache(cache *db.Cache) Option {
	return func(a *App) { a.cache = cache }
}

// WithOptions overrides the per-conversation timeouts and intervals.
func WithOptions(opts conversation.Options) Option {
	return func(a *App) { a.opts = opts }
}

// WithLogger sets the logger shared by the app and its engines.
func WithLogger(log *logging.Logger) Option {
	return func(a *App) { a.log = log }
}

// NewApp creates the session manager. selfID is this client's user id;
// transport and api are the injected collaborators.
func NewApp(selfID string, transport core.Transport, api core.MessageAPI, options ...Option) *App {
	a := &App{
		selfID:    selfID,
		transport: transport,
		api:       api,
		opts:      conversation.DefaultOptions(),
		log:       logging.Nop(),
		sessions:  make(map[string]*session),
		events:    make(chan core.Event, 128),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Events returns the merged engine-to-UI event stream of all open
// conversations.
func (a *App) Events() <-chan core.Event {
	return a.events
}

// OpenConversation creates and starts an engine for the conversation. Opening
// an already open conversation returns the existing engine.
func (a *App) OpenConversation(ctx context.Context, conv models.Conversation) (*conversation.Engine, error) {
	a.mu.Lock()
	if s, ok := a.sessions[conv.ID]; ok {
		a.mu.Unlock()
		return s.engine, nil
	}
	a.mu.Unlock()

	engine := conversation.NewEngine(conv, a.selfID, a.transport, a.api, a.opts, a.log)

	// Seed from the cache before the network fill so the view is not empty
	// while the first page loads.
	if a.cache != nil {
		cached, err := a.cache.Recent(conv.ID, a.opts.PageSize)
		if err != nil {
			a.log.Warnf("failed to read cache for %s: %v", conv.ID, err)
		}
		for _, msg := range cached {
			engine.Store().Upsert(msg)
		}
	}

	if err := engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to open conversation %s: %w", conv.ID, err)
	}

	s := &session{engine: engine, stop: make(chan struct{})}

	a.mu.Lock()
	if existing, ok := a.sessions[conv.ID]; ok {
		// Lost the race to another opener; keep theirs.
		a.mu.Unlock()
		_ = engine.Close()
		return existing.engine, nil
	}
	a.sessions[conv.ID] = s
	a.mu.Unlock()

	go a.pump(s)
	return engine, nil
}

// pump forwards one engine's events into the app-wide stream and writes
// confirmed messages through to the cache.
func (a *App) pump(s *session) {
	for {
		select {
		case ev := <-s.engine.Events():
			if a.cache != nil {
				if changed, ok := ev.(core.MessagesChangedEvent); ok {
					if err := a.cache.PutAll(s.engine.Messages()); err != nil {
						a.log.Warnf("cache write for %s failed: %v", changed.ConversationID, err)
					}
				}
			}
			select {
			case a.events <- ev:
			default:
				a.log.Warnf("dropping app event %s: queue full", ev.Type())
			}
		case <-s.engine.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Engine returns the engine of an open conversation.
func (a *App) Engine(conversationID string) (*conversation.Engine, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation not open: %s", conversationID)
	}
	return s.engine, nil
}

// CloseConversation shuts down the conversation's engine.
func (a *App) CloseConversation(conversationID string) error {
	a.mu.Lock()
	s, ok := a.sessions[conversationID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("conversation not open: %s", conversationID)
	}
	delete(a.sessions, conversationID)
	a.mu.Unlock()

	close(s.stop)
	return s.engine.Close()
}

// Shutdown closes every open conversation and the cache.
func (a *App) Shutdown() {
	a.mu.Lock()
	open := make([]*session, 0, len(a.sessions))
	for id, s := range a.sessions {
		open = append(open, s)
		delete(a.sessions, id)
	}
	a.mu.Unlock()

	for _, s := range open {
		close(s.stop)
		_ = s.engine.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warnf("failed to close cache: %v", err)
		}
	}
}
