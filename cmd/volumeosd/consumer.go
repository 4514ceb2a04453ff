package main

import (
	"log/slog"
	"sync"
	"time"
)

// osdConsumer applies actions to the audio backend and drives the display
// state. Actions arrive on the dispatcher goroutine; the auto-hide timer
// fires on its own goroutine, so state is guarded by mu.
type osdConsumer struct {
	backend    AudioBackend
	step       int
	hideAfter  time.Duration
	publishers []displayPublisher
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state DisplayState
	timer *time.Timer
	gen   uint64 // bumped on every show; stale hide callbacks are ignored
}

type consumerConfig struct {
	Step      int
	HideAfter time.Duration
	Theme     Theme
}

func newOSDConsumer(backend AudioBackend, cfg consumerConfig, logger *slog.Logger, pubs ...displayPublisher) *osdConsumer {
	if cfg.Step <= 0 {
		cfg.Step = defaultStepPercent
	}
	if cfg.HideAfter <= 0 {
		cfg.HideAfter = defaultHideAfter
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &osdConsumer{
		backend:    backend,
		step:       cfg.Step,
		hideAfter:  cfg.HideAfter,
		publishers: pubs,
		logger:     logger,
		now:        time.Now,
		state:      DisplayState{Theme: cfg.Theme}.withAudio(AudioState{}),
	}
}

func (c *osdConsumer) OnIncrease() { c.change(c.step) }

func (c *osdConsumer) OnDecrease() { c.change(-c.step) }

func (c *osdConsumer) change(delta int) {
	v, err := c.backend.ChangeVolume(delta)
	if err != nil {
		c.logger.Error("change volume failed", "delta", delta, "error", err)
		return
	}
	c.show(AudioState{Volume: v})
}

func (c *osdConsumer) OnToggleMute() {
	if err := c.backend.ToggleMute(); err != nil {
		c.logger.Error("toggle mute failed", "error", err)
		return
	}
	c.Refresh()
}

// Refresh re-reads the backend state and shows it.
func (c *osdConsumer) Refresh() {
	st, err := c.backend.State()
	if err != nil {
		c.logger.Error("query audio state failed", "error", err)
		return
	}
	c.show(st)
}

// SetTheme switches the palette and republishes the current state without
// showing the panel.
func (c *osdConsumer) SetTheme(t Theme) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Theme == t {
		return
	}
	c.state.Theme = t
	c.state.UpdatedAt = c.now()
	c.logger.Info("theme changed", "theme", t.Name)
	c.publishLocked()
}

// Snapshot returns the current display state.
func (c *osdConsumer) Snapshot() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the hide timer.
func (c *osdConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
}

func (c *osdConsumer) show(a AudioState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = c.state.withAudio(a)
	c.state.Visible = true
	c.state.UpdatedAt = c.now()

	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.hideAfter, func() { c.hide(gen) })

	c.logger.Debug("display", "label", c.state.Label, "bar", c.state.Bar)
	c.publishLocked()
}

func (c *osdConsumer) hide(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.state.Visible {
		return
	}
	c.state.Visible = false
	c.state.UpdatedAt = c.now()
	c.publishLocked()
}

// publishLocked is called with mu held so subscribers see snapshots in order.
func (c *osdConsumer) publishLocked() {
	for _, p := range c.publishers {
		p.PublishDisplay(c.state)
	}
}
