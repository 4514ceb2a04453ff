package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Renderers subscribe on /ws and receive JSON text frames shaped
// {type, ts, data}: "state_init" once on connect, then "display_changed"
// for every DisplayState change, auto-hide included.
//
// Every subscriber has a bounded frame queue drained by its own write loop.
// A subscriber whose queue is full is evicted.

type wsFrame struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func encodeFrame(typ string, data any) ([]byte, error) {
	ts := time.Now().UTC()
	return json.Marshal(wsFrame{Type: typ, Ts: &ts, Data: data})
}

const (
	defaultSubscriberQueue = 32
	defaultHubBacklog      = 128
)

// hubOptions sizes the hub queues; zero values use the defaults.
type hubOptions struct {
	QueueSize   int // per subscriber
	BacklogSize int // frames waiting for fan-out

	// Snapshot supplies the state_init payload. It is read by Run as the
	// subscriber joins, so no display_changed falls between the two.
	Snapshot func() DisplayState
}

// displayHub fans display frames out to websocket subscribers. Only Run
// touches the join/leave/frames channels on the receiving side. done is
// closed when Run returns; senders select on it so they never block on a
// stopped hub.
type displayHub struct {
	logger   *slog.Logger
	snapshot func() DisplayState

	frames chan []byte
	join   chan *wsClient
	leave  chan *wsClient
	done   chan struct{}

	mu   sync.Mutex
	subs map[*wsClient]struct{}

	queueSize int
}

func newDisplayHub(logger *slog.Logger, opts hubOptions) *displayHub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultSubscriberQueue
	}
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = defaultHubBacklog
	}
	return &displayHub{
		logger:    logger,
		snapshot:  opts.Snapshot,
		frames:    make(chan []byte, opts.BacklogSize),
		join:      make(chan *wsClient), // unbuffered: a join either reaches Run or fails on done
		leave:     make(chan *wsClient, 16),
		done:      make(chan struct{}),
		subs:      make(map[*wsClient]struct{}),
		queueSize: opts.QueueSize,
	}
}

// Run serves joins, leaves and fan-out until ctx ends, then drops every
// subscriber.
func (h *displayHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			return
		case c := <-h.join:
			h.queueStateInit(c)
			h.mu.Lock()
			h.subs[c] = struct{}{}
			n := len(h.subs)
			h.mu.Unlock()
			h.logger.Info("display subscriber joined", "remote_addr", c.addr, "subscribers", n)
		case c := <-h.leave:
			h.evict(c, "disconnected")
		case frame := <-h.frames:
			h.fanOut(frame)
		}
	}
}

// queueStateInit puts the current state on a joining subscriber's empty
// queue, ahead of any fan-out.
func (h *displayHub) queueStateInit(c *wsClient) {
	if h.snapshot == nil {
		return
	}
	frame, err := encodeFrame("state_init", h.snapshot())
	if err != nil {
		h.logger.Warn("encode state_init frame", "error", err)
		return
	}
	select {
	case c.queue <- frame:
	default:
	}
}

// subscribe hands c to Run. It reports false when the hub has stopped.
func (h *displayHub) subscribe(c *wsClient) bool {
	select {
	case h.join <- c:
		return true
	case <-h.done:
		return false
	}
}

// unsubscribe asks Run to evict c; a no-op once the hub has stopped.
func (h *displayHub) unsubscribe(c *wsClient) {
	select {
	case h.leave <- c:
	case <-h.done:
	}
}

func (h *displayHub) fanOut(frame []byte) {
	var full []*wsClient

	h.mu.Lock()
	for c := range h.subs {
		select {
		case c.queue <- frame:
		default:
			full = append(full, c)
		}
	}
	h.mu.Unlock()

	// evict takes mu itself.
	for _, c := range full {
		h.evict(c, "queue full")
	}
}

// Subscribers returns the number of connected renderers.
func (h *displayHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *displayHub) dropAll() {
	h.mu.Lock()
	subs := make([]*wsClient, 0, len(h.subs))
	for c := range h.subs {
		subs = append(subs, c)
	}
	clear(h.subs)
	h.mu.Unlock()

	for _, c := range subs {
		c.shutdown()
	}
}

func (h *displayHub) evict(c *wsClient, reason string) {
	h.mu.Lock()
	_, present := h.subs[c]
	delete(h.subs, c)
	n := len(h.subs)
	h.mu.Unlock()

	if !present {
		return
	}
	c.shutdown()
	h.logger.Info("display subscriber left", "remote_addr", c.addr, "reason", reason, "subscribers", n)
}

// publish queues an encoded frame for fan-out; it drops the frame rather
// than block when the backlog is full.
func (h *displayHub) publish(frame []byte) {
	select {
	case h.frames <- frame:
	default:
		h.logger.Warn("display hub backlog full, frame dropped", "bytes", len(frame))
	}
}

// PublishDisplay sends a display_changed frame to every subscriber.
func (h *displayHub) PublishDisplay(s DisplayState) {
	frame, err := encodeFrame("display_changed", s)
	if err != nil {
		h.logger.Warn("encode display frame", "error", err)
		return
	}
	h.publish(frame)
}

// wsClient is one websocket subscriber.
type wsClient struct {
	hub    *displayHub
	conn   *websocket.Conn
	queue  chan []byte
	addr   string
	logger *slog.Logger

	once sync.Once
}

func newWSClient(hub *displayHub, conn *websocket.Conn, addr string, logger *slog.Logger) *wsClient {
	return &wsClient{
		hub:    hub,
		conn:   conn,
		queue:  make(chan []byte, hub.queueSize),
		addr:   addr,
		logger: logger,
	}
}

// shutdown closes the conn (when there is one) and the queue, which ends
// writeLoop.
func (c *wsClient) shutdown() {
	c.once.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.queue)
	})
}

const (
	wsWriteTimeout = 5 * time.Second
	wsReadTimeout  = 30 * time.Second
	wsPingEvery    = 20 * time.Second
)

func (c *wsClient) logDone(loop string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws "+loop+" done", "remote_addr", c.addr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws "+loop+" done", "remote_addr", c.addr, "error", err)
}

// writeLoop sends queued frames and keepalive pings.
func (c *wsClient) writeLoop() {
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		var (
			kind    = websocket.PingMessage
			payload []byte
		)
		select {
		case frame, open := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, payload = websocket.TextMessage, frame
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		}
		if err := c.conn.WriteMessage(kind, payload); err != nil {
			c.logDone("write", err)
			return
		}
	}
}

// readLoop drains inbound frames so pongs and close frames are processed;
// a read error means the renderer went away.
func (c *wsClient) readLoop() {
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) }
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			c.logDone("read", err)
			c.hub.unsubscribe(c)
			return
		}
	}
}

// displayWSHandler upgrades /ws and hands the subscriber to the hub, which
// queues the current state as its first frame.
type displayWSHandler struct {
	logger *slog.Logger
	hub    *displayHub
}

var wsUpgrader = websocket.Upgrader{
	// Local renderers (browser sources, kiosk pages) send arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *displayWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newWSClient(s.hub, conn, r.RemoteAddr, s.logger)
	if !s.hub.subscribe(c) {
		s.logger.Debug("display hub stopped, closing subscriber", "remote_addr", r.RemoteAddr)
		c.shutdown()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}
