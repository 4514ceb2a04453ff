package main

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// waitUntil polls cond until it is true or timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// fakeClock is a manually advanced clock for the rate limiter.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource is an in-memory eventSource. Close unblocks ReadEvent.
type fakeSource struct {
	name   string
	events chan inputEvent

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{
		name:   name,
		events: make(chan inputEvent, 128),
		done:   make(chan struct{}),
	}
}

func (s *fakeSource) ReadEvent() (inputEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return inputEvent{}, errSourceClosed
	}
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *fakeSource) key(code uint16, value int32) {
	s.events <- inputEvent{Type: EV_KEY, Code: code, Value: value}
}

// recordingSink is an actionSink that records every dispatched action.
type recordingSink struct {
	mu      sync.Mutex
	actions []Action
	reject  bool
}

func (s *recordingSink) Dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.actions = append(s.actions, a)
	return true
}

func (s *recordingSink) got() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

func (s *recordingSink) count(a Action) int {
	n := 0
	for _, got := range s.got() {
		if got == a {
			n++
		}
	}
	return n
}

// recordingConsumer records Consumer calls in order.
type recordingConsumer struct {
	mu    sync.Mutex
	calls []Action
}

func (c *recordingConsumer) record(a Action) {
	c.mu.Lock()
	c.calls = append(c.calls, a)
	c.mu.Unlock()
}

func (c *recordingConsumer) OnIncrease()   { c.record(ActionIncrease) }
func (c *recordingConsumer) OnDecrease()   { c.record(ActionDecrease) }
func (c *recordingConsumer) OnToggleMute() { c.record(ActionToggleMute) }

func (c *recordingConsumer) got() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.calls...)
}

// fakeBackend is an in-memory AudioBackend.
type fakeBackend struct {
	mu      sync.Mutex
	state   AudioState
	err     error
	changes []int
	toggles int
	closed  bool
}

var errBackendDown = errors.New("backend down")

func (b *fakeBackend) State() (AudioState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return AudioState{}, b.err
	}
	return b.state, nil
}

func (b *fakeBackend) ChangeVolume(delta int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	b.changes = append(b.changes, delta)
	b.state.Volume = clampPercent(b.state.Volume + delta)
	return b.state.Volume, nil
}

func (b *fakeBackend) ToggleMute() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.toggles++
	b.state.Muted = !b.state.Muted
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *fakeBackend) changeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}

// recordingPublisher collects display snapshots.
type recordingPublisher struct {
	mu     sync.Mutex
	states []DisplayState
}

func (p *recordingPublisher) PublishDisplay(s DisplayState) {
	p.mu.Lock()
	p.states = append(p.states, s)
	p.mu.Unlock()
}

func (p *recordingPublisher) last() (DisplayState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return DisplayState{}, false
	}
	return p.states[len(p.states)-1], true
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

func defaultTestKeymap(t *testing.T) *keymap {
	t.Helper()
	km, err := newKeymap(DefaultConfig().Keys)
	if err != nil {
		t.Fatalf("newKeymap(defaults): %v", err)
	}
	return km
}
