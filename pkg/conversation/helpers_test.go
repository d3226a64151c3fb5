package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"Parley/pkg/core"
	"Parley/pkg/models"
	"Parley/pkg/transport"
)

// fakeAPI is an in-memory core.MessageAPI serving scripted history pages.
type fakeAPI struct {
	mu       sync.Mutex
	pages    [][]models.Message
	calls    []apiCall
	snapshot *models.Message
}

type apiCall struct {
	method string
	limit  int
	offset int
}

func (f *fakeAPI) GetMessages(_ context.Context, _ string, limit, offset int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{method: "GetMessages", limit: limit, offset: offset})
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{method: "MarkRead"})
	return nil
}

func (f *fakeAPI) EditMessage(_ context.Context, _, _, _ string) (*models.Message, error) {
	return f.snapshot, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, _, _ string, _ bool) (*models.Message, error) {
	return f.snapshot, nil
}

func (f *fakeAPI) StarMessage(_ context.Context, _, _ string, _ bool) (*models.Message, error) {
	return f.snapshot, nil
}

func (f *fakeAPI) AddReaction(_ context.Context, _, _, _ string) (*models.Message, error) {
	return f.snapshot, nil
}

func (f *fakeAPI) RemoveReaction(_ context.Context, _, _, _ string) (*models.Message, error) {
	return f.snapshot, nil
}

// eventCollector gathers emitted UI events for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []core.Event
}

func (c *eventCollector) emit(ev core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) typed(t core.EventType) []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Event
	for _, ev := range c.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

const (
	testSelfID = "me"
	testPeerID = "peer"
	testConvID = "conv-1"
)

func directConv() models.Conversation {
	return models.Conversation{
		ID:        testConvID,
		Kind:      models.KindDirect,
		MemberIDs: []string{testSelfID, testPeerID},
	}
}

// startEngine builds and starts an engine wired to a mock transport and fake
// API, and tears it down with the test.
func startEngine(t *testing.T, opts Options, api *fakeAPI) (*Engine, *transport.Mock) {
	t.Helper()
	if api == nil {
		api = &fakeAPI{}
	}
	mock := transport.NewMock()
	e := NewEngine(directConv(), testSelfID, mock, api, opts, nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, mock
}

func peerMessage(id string, created time.Time, content string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: testConvID,
		SenderID:       testPeerID,
		Type:           models.MessageTypeText,
		Content:        content,
		Status:         models.StatusSent,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// awaitEvent reads the engine's event channel until an event of the wanted
// type arrives or the timeout expires.
func awaitEvent(t *testing.T, e *Engine, want core.EventType, timeout time.Duration) core.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type() == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", want, timeout)
			return nil
		}
	}
}
