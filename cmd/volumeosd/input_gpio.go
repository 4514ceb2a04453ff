//go:build linux

package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioSource turns GPIO button edges into EV_KEY press/release events so
// front-panel buttons go through the same reader pipeline as keyboards.
//
// Edge events are delivered by gpiocdev on its own goroutine; they are
// handed to ReadEvent over a channel.
type gpioSource struct {
	name   string
	keys   map[int]uint16 // line offset -> key code
	lines  []*gpiocdev.Line
	events chan inputEvent

	done      chan struct{}
	closeOnce sync.Once
}

// openGPIOSource requests every configured button line on the chip.
func openGPIOSource(cfg GPIOConfig) (eventSource, error) {
	s := &gpioSource{
		name:   "gpio:" + cfg.Chip,
		keys:   make(map[int]uint16, len(cfg.Buttons)),
		events: make(chan inputEvent, 16),
		done:   make(chan struct{}),
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.handleEdge),
	}
	// Active-low buttons short the line to ground; with AsActiveLow a press
	// reads as a logical rising edge.
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if cfg.DebounceMS > 0 {
		opts = append(opts, gpiocdev.WithDebounce(time.Duration(cfg.DebounceMS)*time.Millisecond))
	}

	// The key table is read by the edge handler, so fill it before any
	// line is requested.
	for _, b := range cfg.Buttons {
		code, err := parseKeyCode(b.Key)
		if err != nil {
			return nil, fmt.Errorf("gpio line %d: %w", b.Line, err)
		}
		s.keys[b.Line] = code
	}

	for _, b := range cfg.Buttons {
		line, err := gpiocdev.RequestLine(cfg.Chip, b.Line, opts...)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("request gpio line %d on %s: %w", b.Line, cfg.Chip, err)
		}
		s.lines = append(s.lines, line)
	}

	return s, nil
}

func (s *gpioSource) handleEdge(evt gpiocdev.LineEvent) {
	code, ok := s.keys[evt.Offset]
	if !ok {
		return
	}

	value := int32(evValueRelease)
	if evt.Type == gpiocdev.LineEventRisingEdge {
		value = evValuePress
	}

	ev := inputEvent{
		Sec:   int64(evt.Timestamp / time.Second),
		Usec:  int64((evt.Timestamp % time.Second) / time.Microsecond),
		Type:  EV_KEY,
		Code:  code,
		Value: value,
	}

	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *gpioSource) ReadEvent() (inputEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return inputEvent{}, errSourceClosed
	}
}

func (s *gpioSource) Name() string { return s.name }

// Close releases all requested lines and unblocks ReadEvent.
func (s *gpioSource) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.done)
		for _, l := range s.lines {
			if err := l.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
