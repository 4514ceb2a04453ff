package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	camillaDialAttempts = 10
	camillaRetryDelay   = 500 * time.Millisecond
)

// CamillaDSPBackend drives the CamillaDSP main fader over its websocket
// API. The fader's dB range [min_db, max_db] maps linearly onto 0..100.
//
// Commands are strictly request/reply, so one mutex serializes the whole
// exchange. A failed exchange drops the connection and the next command
// dials again.
type CamillaDSPBackend struct {
	url         string
	logger      *slog.Logger
	readTimeout time.Duration
	minDB       float64
	maxDB       float64
	retryDelay  time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// camillaReply is one entry of a reply; replies are keyed by command name,
// e.g. {"GetVolume": {"result": "Ok", "value": -20.5}}.
type camillaReply struct {
	Result string          `json:"result"`
	Value  json.RawMessage `json:"value"`
}

// NewCamillaDSPBackend dials the CamillaDSP websocket, retrying for a few
// seconds in case CamillaDSP is still starting.
func NewCamillaDSPBackend(cfg CamillaDSPConfig, logger *slog.Logger) (*CamillaDSPBackend, error) {
	if _, err := url.Parse(cfg.WsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if logger == nil {
		logger = discardLogger()
	}

	c := &CamillaDSPBackend{
		url:         cfg.WsURL,
		logger:      logger,
		readTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		minDB:       cfg.MinDB,
		maxDB:       cfg.MaxDB,
		retryDelay:  camillaRetryDelay,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.redialLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CamillaDSPBackend) redialLocked() error {
	c.dropLocked()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}

	var err error
	for attempt := 1; attempt <= camillaDialAttempts; attempt++ {
		var conn *websocket.Conn
		if conn, _, err = dialer.Dial(c.url, nil); err == nil {
			c.conn = conn
			c.logger.Info("camilladsp connected", "url", c.url, "attempt", attempt)
			return nil
		}
		c.logger.Warn("camilladsp dial failed", "url", c.url, "attempt", attempt, "error", err)
		time.Sleep(c.retryDelay)
	}
	return fmt.Errorf("camilladsp unreachable after %d attempts: %w", camillaDialAttempts, err)
}

func (c *CamillaDSPBackend) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// exchange sends cmd and decodes the reply for name into out (when out is
// non-nil). cmd is the bare command name for getters and a one-key object
// for setters.
func (c *CamillaDSPBackend) exchange(name string, cmd any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warn("camilladsp connection lost, redialing")
		if err := c.redialLocked(); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return err
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	var replies map[string]camillaReply
	if err := json.Unmarshal(raw, &replies); err != nil {
		return fmt.Errorf("decode %s reply: %w", name, err)
	}
	r, ok := replies[name]
	switch {
	case !ok:
		return fmt.Errorf("%s reply missing from %s", name, raw)
	case r.Result != "Ok":
		return fmt.Errorf("%s: result %q", name, r.Result)
	}
	c.logger.Debug("camilladsp reply", "command", name, "value", string(r.Value))

	if out == nil || len(r.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Value, out); err != nil {
		return fmt.Errorf("decode %s value: %w", name, err)
	}
	return nil
}

func (c *CamillaDSPBackend) percent() (int, error) {
	var db float64
	if err := c.exchange("GetVolume", "GetVolume", &db); err != nil {
		return 0, fmt.Errorf("get volume: %w", err)
	}
	return dbToPercent(db, c.minDB, c.maxDB), nil
}

func (c *CamillaDSPBackend) State() (AudioState, error) {
	vol, err := c.percent()
	if err != nil {
		return AudioState{}, err
	}
	var muted bool
	if err := c.exchange("GetMute", "GetMute", &muted); err != nil {
		return AudioState{}, fmt.Errorf("get mute: %w", err)
	}
	return AudioState{Volume: vol, Muted: muted}, nil
}

func (c *CamillaDSPBackend) ChangeVolume(delta int) (int, error) {
	vol, err := c.percent()
	if err != nil {
		return 0, err
	}
	target := clampPercent(vol + delta)
	set := map[string]float64{"SetVolume": percentToDB(target, c.minDB, c.maxDB)}
	if err := c.exchange("SetVolume", set, nil); err != nil {
		return 0, fmt.Errorf("set volume: %w", err)
	}
	return target, nil
}

func (c *CamillaDSPBackend) ToggleMute() error {
	if err := c.exchange("ToggleMute", "ToggleMute", nil); err != nil {
		return fmt.Errorf("toggle mute: %w", err)
	}
	return nil
}

func (c *CamillaDSPBackend) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

func dbToPercent(db, minDB, maxDB float64) int {
	if maxDB <= minDB {
		return 0
	}
	return clampPercent(int(math.Round((db - minDB) / (maxDB - minDB) * 100)))
}

func percentToDB(p int, minDB, maxDB float64) float64 {
	return minDB + float64(clampPercent(p))/100*(maxDB-minDB)
}
