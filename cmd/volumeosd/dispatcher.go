package main

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Consumer applies actions. All methods are invoked from the single
// dispatcher goroutine, never concurrently.
type Consumer interface {
	OnIncrease()
	OnDecrease()
	OnToggleMute()
}

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Dispatched uint64 `json:"dispatched"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	Queued     int    `json:"queued"`
}

// ActionDispatcher is the hand-off from N producer goroutines (readers, IPC)
// to one consumer goroutine. Producers never block: when the queue is full
// the action is dropped and counted.
type ActionDispatcher struct {
	queue  chan Action
	logger *slog.Logger

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
}

// NewActionDispatcher creates a dispatcher with a bounded queue.
func NewActionDispatcher(queueSize int, logger *slog.Logger) *ActionDispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &ActionDispatcher{
		queue:  make(chan Action, queueSize),
		logger: logger,
	}
}

// Dispatch enqueues a without blocking. It returns false when the action
// was dropped because the consumer is behind.
func (d *ActionDispatcher) Dispatch(a Action) bool {
	select {
	case d.queue <- a:
		d.dispatched.Add(1)
		return true
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("action queue full, dropping action", "action", a.String(), "dropped_total", n)
		return false
	}
}

// Run delivers queued actions to c in FIFO order until ctx is canceled.
func (d *ActionDispatcher) Run(ctx context.Context, c Consumer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-d.queue:
			d.deliver(c, a)
		}
	}
}

func (d *ActionDispatcher) deliver(c Consumer, a Action) {
	switch a {
	case ActionIncrease:
		c.OnIncrease()
	case ActionDecrease:
		c.OnDecrease()
	case ActionToggleMute:
		c.OnToggleMute()
	default:
		d.logger.Warn("unknown action dropped", "action", a.String())
		return
	}
	d.delivered.Add(1)
	d.logger.Debug("action delivered", "action", a.String())
}

// Stats returns a snapshot of the dispatcher counters.
func (d *ActionDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		Queued:     len(d.queue),
	}
}
