package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// readerState is the lifecycle of one EventReader.
type readerState int32

const (
	readerOpening readerState = iota
	readerListening
	readerClosed
)

func (s readerState) String() string {
	switch s {
	case readerOpening:
		return "opening"
	case readerListening:
		return "listening"
	case readerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// actionSink receives gated actions. ActionDispatcher implements it.
type actionSink interface {
	Dispatch(a Action) bool
}

// ReaderStats is a snapshot of one reader's counters.
type ReaderStats struct {
	Device      string `json:"device"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state"`
	Events      uint64 `json:"events"`
	Emitted     uint64 `json:"emitted"`
	RateLimited uint64 `json:"rate_limited"`
}

// EventReader owns one device session and turns its key events into
// actions. One goroutine per reader; it only ever blocks in ReadEvent.
//
// modifiers and limiter are shared with every other reader.
type EventReader struct {
	device    string
	open      sourceOpener
	keys      *keymap
	modifiers *modifierState
	limiter   *rateLimiter
	sink      actionSink
	logger    *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	src       eventSource
	closed    bool // Close called before or after open
	closeOnce sync.Once

	events      atomic.Uint64
	emitted     atomic.Uint64
	rateLimited atomic.Uint64

	// heldHere is the modifier keys this device pressed and has not
	// released. Only the Run goroutine touches it.
	heldHere map[uint16]ModifierClass
}

// ReaderDeps are the shared collaborators every reader is built with.
type ReaderDeps struct {
	Open      sourceOpener
	Keys      *keymap
	Modifiers *modifierState
	Limiter   *rateLimiter
	Sink      actionSink
	Logger    *slog.Logger
}

// NewEventReader creates a reader for device in the Opening state.
func NewEventReader(device string, deps ReaderDeps) *EventReader {
	logger := deps.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &EventReader{
		device:    device,
		open:      deps.Open,
		keys:      deps.Keys,
		modifiers: deps.Modifiers,
		limiter:   deps.Limiter,
		sink:      deps.Sink,
		logger:    logger.With("device", device),
		heldHere:  make(map[uint16]ModifierClass),
	}
}

// State returns the current lifecycle state.
func (r *EventReader) State() readerState {
	return readerState(r.state.Load())
}

// Device returns the identifier this reader was created for.
func (r *EventReader) Device() string { return r.device }

// Run opens the device and processes events until the session ends.
// Open and read failures end this reader only; they are logged, not
// returned, so callers never tear down sibling readers on a device error.
func (r *EventReader) Run(ctx context.Context) {
	defer r.state.Store(int32(readerClosed))

	src, err := r.open(r.device)
	if err != nil {
		r.logger.Error("failed to open input device", "error", err)
		return
	}

	r.mu.Lock()
	if r.closed {
		// Shut down while opening.
		r.mu.Unlock()
		src.Close()
		return
	}
	r.src = src
	r.mu.Unlock()
	defer r.Close()

	// Closing the source is what unblocks a pending ReadEvent.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			r.Close()
		case <-stop:
		}
	}()

	r.state.Store(int32(readerListening))
	r.logger.Info("listening", "name", src.Name())

	for {
		ev, err := src.ReadEvent()
		if err != nil {
			if ctx.Err() != nil || r.isClosed() {
				r.logger.Info("input device closed")
			} else {
				r.logger.Warn("input device read failed, reader stopped", "error", err)
				r.logHeldModifiers()
			}
			return
		}
		r.events.Add(1)
		r.handleEvent(ev)
	}
}

// Close closes the device session, unblocking Run. Safe to call at any
// time and more than once.
func (r *EventReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		src := r.src
		r.mu.Unlock()
		if src != nil {
			err = src.Close()
		}
	})
	return err
}

func (r *EventReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// handleEvent applies one raw event. Modifiers are tracked first and never
// rate limited; hardware bindings win over combo bindings for the same event.
func (r *EventReader) handleEvent(ev inputEvent) {
	if ev.Type != EV_KEY {
		return
	}

	var press, release bool
	switch ev.Value {
	case evValuePress:
		press = true
	case evValueRelease:
		release = true
	case evValueRepeat:
	default:
		return
	}

	if class, ok := r.keys.modifierFor(ev.Code); ok {
		switch {
		case press:
			r.modifiers.Press(class)
			r.heldHere[ev.Code] = class
		case release:
			r.modifiers.Release(class)
			delete(r.heldHere, ev.Code)
		}
		return
	}

	if release {
		return
	}

	if action, ok := r.keys.hardwareAction(ev.Code); ok {
		r.emit(action)
		return
	}

	if action, ok := r.keys.comboAction(ev.Code); ok && r.modifiers.IsActive(r.keys.comboModifier) {
		r.emit(action)
	}
}

// logHeldModifiers reports modifiers left held by a device that went away.
// They stay counted until a release arrives from some device.
func (r *EventReader) logHeldModifiers() {
	if len(r.heldHere) == 0 {
		return
	}
	classes := make([]string, 0, len(r.heldHere))
	for code, class := range r.heldHere {
		classes = append(classes, fmt.Sprintf("%s(%d)", class, code))
	}
	sort.Strings(classes)
	r.logger.Warn("device ended with modifiers held", "modifiers", strings.Join(classes, ","), "held", r.modifiers.Held())
}

func (r *EventReader) emit(a Action) {
	if !r.limiter.TryAcquire(a) {
		r.rateLimited.Add(1)
		return
	}
	if r.sink.Dispatch(a) {
		r.emitted.Add(1)
	}
}

// Stats returns a snapshot of the reader's counters.
func (r *EventReader) Stats() ReaderStats {
	st := ReaderStats{
		Device:      r.device,
		State:       r.State().String(),
		Events:      r.events.Load(),
		Emitted:     r.emitted.Load(),
		RateLimited: r.rateLimited.Load(),
	}
	r.mu.Lock()
	if r.src != nil {
		st.Name = r.src.Name()
	}
	r.mu.Unlock()
	return st
}
