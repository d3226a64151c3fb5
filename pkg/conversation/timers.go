package conversation

import (
	"sync"
	"time"
)

// timerSet owns every timer and ticker a conversation session arms, each under
// a stable name. Arming a name that is already armed replaces the previous
// handle, and StopAll releases everything in one call, so closing a
// conversation cannot leak a timer into the next one.
type timerSet struct {
	mu      sync.Mutex
	cancels map[string]func()
	stopped bool
}

func newTimerSet() *timerSet {
	return &timerSet{cancels: make(map[string]func())}
}

// After arms a named one-shot timer. The callback runs on the timer goroutine;
// callers that need engine ordering must enqueue from inside it.
func (ts *timerSet) After(name string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped {
		return
	}
	if cancel, ok := ts.cancels[name]; ok {
		cancel()
	}
	t := time.AfterFunc(d, fn)
	ts.cancels[name] = func() { t.Stop() }
}

// Every arms a named repeating ticker.
func (ts *timerSet) Every(name string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped {
		return
	}
	if cancel, ok := ts.cancels[name]; ok {
		cancel()
	}

	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	ts.cancels[name] = func() {
		ticker.Stop()
		once.Do(func() { close(done) })
	}
}

// Stop cancels one named timer if it is armed.
func (ts *timerSet) Stop(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if cancel, ok := ts.cancels[name]; ok {
		cancel()
		delete(ts.cancels, name)
	}
}

// StopAll cancels every armed timer and refuses further arming.
func (ts *timerSet) StopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stopped = true
	for name, cancel := range ts.cancels {
		cancel()
		delete(ts.cancels, name)
	}
}
