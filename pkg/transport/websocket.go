package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"Parley/pkg/core"
	"Parley/pkg/logging"
)

// frame is the wire envelope: one named event per websocket text message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Websocket adapts an already-dialed gorilla/websocket connection to the
// core.Transport interface. The connection's lifecycle — dialing, reconnect
// backoff, closing — stays with the caller; this adapter only routes named
// frames to subscribed handlers and serializes concurrent emits.
type Websocket struct {
	conn *websocket.Conn
	log  *logging.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string]map[int]core.HandlerFunc
	nextID   int

	done     chan struct{}
	doneOnce sync.Once
}

// NewWebsocket wraps a connected websocket.
func NewWebsocket(conn *websocket.Conn, log *logging.Logger) *Websocket {
	if log == nil {
		log = logging.Nop()
	}
	return &Websocket{
		conn:     conn,
		log:      log,
		handlers: make(map[string]map[int]core.HandlerFunc),
		done:     make(chan struct{}),
	}
}

// Run reads frames and dispatches them until the connection fails or Stop is
// called. It is intended to run on a goroutine owned by the caller; the
// returned error is the read error that ended the loop.
func (w *Websocket) Run() error {
	for {
		select {
		case <-w.done:
			return nil
		default:
		}

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.doneOnce.Do(func() { close(w.done) })
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			w.log.Warnf("dropping malformed frame: %v", err)
			continue
		}
		w.dispatch(f)
	}
}

// Stop ends the read loop. It does not close the underlying connection.
func (w *Websocket) Stop() {
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *Websocket) dispatch(f frame) {
	w.mu.RLock()
	listeners := make([]core.HandlerFunc, 0, len(w.handlers[f.Event]))
	for _, h := range w.handlers[f.Event] {
		listeners = append(listeners, h)
	}
	w.mu.RUnlock()

	for _, h := range listeners {
		h(f.Data)
	}
}

// Subscribe registers a handler for a named event.
func (w *Websocket) Subscribe(event string, h core.HandlerFunc) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.handlers[event] == nil {
		w.handlers[event] = make(map[int]core.HandlerFunc)
	}
	id := w.nextID
	w.nextID++
	w.handlers[event][id] = h

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers[event], id)
	}, nil
}

// Emit writes one named frame. Writes are serialized; gorilla/websocket
// allows only one concurrent writer.
func (w *Websocket) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	buf, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}
	return nil
}
