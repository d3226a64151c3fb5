// Package transport contains implementations of the core.Transport interface.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"Parley/pkg/core"
)

// EmittedEvent records one event the client emitted through the mock.
type EmittedEvent struct {
	Event   string
	Payload json.RawMessage
}

// Mock is a fake in-memory transport for development and tests. Inbound
// events are injected with Inject and dispatched synchronously to subscribed
// handlers; outbound emits are recorded and optionally forwarded to an OnEmit
// hook so a test can script server behavior.
type Mock struct {
	mu       sync.Mutex
	handlers map[string]map[int]core.HandlerFunc
	nextID   int
	emitted  []EmittedEvent
	onEmit   func(event string, payload json.RawMessage)
}

// NewMock creates an empty mock transport.
func NewMock() *Mock {
	return &Mock{handlers: make(map[string]map[int]core.HandlerFunc)}
}

// Subscribe registers a handler for a named event.
func (m *Mock) Subscribe(event string, h core.HandlerFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]core.HandlerFunc)
	}
	id := m.nextID
	m.nextID++
	m.handlers[event][id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}, nil
}

// Emit records the outgoing event and invokes the OnEmit hook if set.
func (m *Mock) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	m.mu.Lock()
	m.emitted = append(m.emitted, EmittedEvent{Event: event, Payload: raw})
	hook := m.onEmit
	m.mu.Unlock()

	if hook != nil {
		hook(event, raw)
	}
	return nil
}

// OnEmit installs a hook invoked for every emitted event, letting tests play
// the server's part (confirming sends, answering presence probes, ...).
func (m *Mock) OnEmit(fn func(event string, payload json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmit = fn
}

// Inject delivers a named event to every subscribed handler, as if it had
// arrived from the server. The payload is marshaled to JSON first.
func (m *Mock) Inject(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	m.mu.Lock()
	listeners := make([]core.HandlerFunc, 0, len(m.handlers[event]))
	for _, h := range m.handlers[event] {
		listeners = append(listeners, h)
	}
	m.mu.Unlock()

	for _, h := range listeners {
		h(raw)
	}
	return nil
}

// Emitted returns a copy of everything emitted so far.
func (m *Mock) Emitted() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmittedEvent, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// EmittedNamed returns the emitted events with the given name.
func (m *Mock) EmittedNamed(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.emitted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// SubscriberCount reports how many handlers are registered for an event.
// Useful for asserting that Close unsubscribed everything.
func (m *Mock) SubscriberCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}
