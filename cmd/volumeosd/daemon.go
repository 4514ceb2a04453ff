package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Daemon wiring
// ============================================================================
//
// Goroutines, all supervised by one errgroup:
//   - one EventReader per input device (plus one for GPIO buttons)
//   - the dispatcher's single consumer goroutine
//   - the websocket hub, HTTP server, IPC server and MQTT publisher
//   - the theme file watcher
//
// Readers never fail the group: a device that cannot be opened or that
// disappears only ends its own reader. Canceling ctx closes every device
// session, which unblocks the pending reads.
// ============================================================================

// daemonDeps are the collaborators built outside the daemon (devices,
// audio, optional MQTT) so tests can substitute fakes.
type daemonDeps struct {
	Devices []string
	Open    sourceOpener
	GPIO    eventSource // optional, already opened
	Backend AudioBackend
	MQTT    *mqttPublisher // optional

	// ThemeFiles are watched for changes when ResolveTheme is set.
	ThemeFiles   []string
	ResolveTheme func() Theme
}

type daemon struct {
	cfg    Config
	logger *slog.Logger

	modifiers  *modifierState
	limiter    *rateLimiter
	dispatcher *ActionDispatcher
	readers    []*EventReader
	consumer   *osdConsumer
	hub        *displayHub
	mqtt       *mqttPublisher
	themes     *themeWatcher
}

func newDaemon(cfg Config, theme Theme, deps daemonDeps, logger *slog.Logger) (*daemon, error) {
	keys, err := newKeymap(cfg.Keys)
	if err != nil {
		return nil, err
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("no audio backend")
	}

	d := &daemon{
		cfg:        cfg,
		logger:     logger,
		modifiers:  newModifierState(),
		limiter:    newRateLimiter(cfg.ToRateLimitConfig()),
		dispatcher: NewActionDispatcher(cfg.Dispatch.QueueSize, logger),
		mqtt:       deps.MQTT,
	}
	d.hub = newDisplayHub(logger, hubOptions{
		Snapshot: func() DisplayState { return d.consumer.Snapshot() },
	})

	pubs := []displayPublisher{d.hub}
	if d.mqtt != nil {
		pubs = append(pubs, d.mqtt)
	}
	d.consumer = newOSDConsumer(deps.Backend, consumerConfig{
		Step:      cfg.Audio.StepPercent,
		HideAfter: cfg.HideAfter(),
		Theme:     theme,
	}, logger, pubs...)

	if deps.ResolveTheme != nil && len(deps.ThemeFiles) > 0 {
		tw, err := newThemeWatcher(deps.ThemeFiles, deps.ResolveTheme, d.consumer.SetTheme, logger)
		if err != nil {
			// Themes still resolve once at startup.
			logger.Warn("theme reload disabled", "error", err)
		} else {
			d.themes = tw
		}
	}

	rdeps := ReaderDeps{
		Open:      deps.Open,
		Keys:      keys,
		Modifiers: d.modifiers,
		Limiter:   d.limiter,
		Sink:      d.dispatcher,
		Logger:    logger,
	}
	for _, dev := range deps.Devices {
		d.readers = append(d.readers, NewEventReader(dev, rdeps))
	}
	if deps.GPIO != nil {
		gpio := deps.GPIO
		gdeps := rdeps
		gdeps.Open = func(string) (eventSource, error) { return gpio, nil }
		d.readers = append(d.readers, NewEventReader(gpio.Name(), gdeps))
	}

	return d, nil
}

// Run starts every component and blocks until ctx is canceled or a
// non-reader component fails.
func (d *daemon) Run(ctx context.Context) error {
	defer d.consumer.Close()

	// Initial state, shown once at startup.
	d.consumer.Refresh()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return d.dispatcher.Run(gctx, d.consumer)
	})

	for _, r := range d.readers {
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}

	if d.cfg.HTTP.Addr != "" {
		mux := newHTTPMux(d.hub, d.status, d.logger)
		g.Go(func() error {
			return runHTTPServer(gctx, d.cfg.HTTP.Addr, mux, d.logger)
		})
	}
	if d.cfg.IPC.SocketPath != "" {
		g.Go(func() error {
			return runIPCServer(gctx, d.cfg.IPC.SocketPath, d.limiter, d.dispatcher, d.logger)
		})
	}
	if d.mqtt != nil {
		g.Go(func() error {
			return d.mqtt.Run(gctx)
		})
	}
	if d.themes != nil {
		g.Go(func() error {
			return d.themes.Run(gctx)
		})
	}

	d.logger.Info("volumeosd running",
		"readers", len(d.readers),
		"http", d.cfg.HTTP.Addr,
		"ipc", d.cfg.IPC.SocketPath,
		"mqtt", d.mqtt != nil)

	err := g.Wait()
	d.logger.Info("volumeosd stopped", "dispatcher", d.dispatcher.Stats())
	return err
}

func (d *daemon) status() statusReport {
	rep := statusReport{
		Version:    version,
		Dispatcher: d.dispatcher.Stats(),
		Display:    d.consumer.Snapshot(),
		WSClients:  d.hub.Subscribers(),

		HeldModifiers: d.modifiers.Held(),
		RateLimitMS:   d.limiter.IntervalsMS(),
	}
	for _, r := range d.readers {
		rep.Readers = append(rep.Readers, r.Stats())
	}
	return rep
}

// resolveDevices returns the configured devices, or discovered keyboards
// when none are configured.
func resolveDevices(configured []string, list func() ([]deviceInfo, error), logger *slog.Logger) ([]string, error) {
	if len(configured) > 0 {
		return configured, nil
	}

	infos, err := list()
	if err != nil {
		return nil, err
	}
	selected, err := selectKeyboards(infos)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(selected))
	for _, d := range selected {
		logger.Info("discovered input device", "device", d.Path, "name", d.Name, "class", classifyDevice(d.Name, d.Keys).String())
		paths = append(paths, d.Path)
	}
	return paths, nil
}

// openerFor returns the device opener for an input backend.
func openerFor(backend string) (sourceOpener, error) {
	switch backend {
	case "evdev":
		return openEvdevSource, nil
	case "raw":
		return openRawSource, nil
	default:
		return nil, fmt.Errorf("unknown input backend: %q", backend)
	}
}
