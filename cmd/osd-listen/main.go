// Command osd-listen prints the display frames volumeosd sends on /ws, one
// line per frame. It is a stand-in renderer for checking a setup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// display mirrors the fields of volumeosd's DisplayState that get printed.
type display struct {
	Label   string `json:"label"`
	Bar     int    `json:"bar"`
	Visible bool   `json:"visible"`
	Theme   struct {
		Name string `json:"name"`
	} `json:"theme"`
}

const (
	barWidth     = 20
	idleDeadline = 60 * time.Second
)

func main() {
	fs := flag.NewFlagSet("osd-listen", flag.ExitOnError)
	var (
		wsURL = fs.String("ws", "ws://127.0.0.1:3002/ws", "volumeosd websocket URL")
		raw   = fs.Bool("raw", false, "Print frames as received")
	)
	_ = fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := listen(ctx, *wsURL, *raw, os.Stdout, logger); err != nil {
		logger.Error("osd-listen failed", "error", err)
		os.Exit(1)
	}
}

// listen prints frames from url until ctx ends or the daemon hangs up.
func listen(ctx context.Context, url string, raw bool, out io.Writer, logger *slog.Logger) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close()
	logger.Info("connected", "url", url)

	// Server pings keep the read deadline moving; the default ping
	// handler answers them.
	alive := func() { _ = conn.SetReadDeadline(time.Now().Add(idleDeadline)) }
	alive()

	readDone := make(chan error, 1)
	go func() {
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				readDone <- err
				return
			}
			alive()
			if kind != websocket.TextMessage {
				continue
			}
			if raw {
				fmt.Fprintln(out, string(msg))
			} else {
				fmt.Fprintln(out, describe(msg))
			}
		}
	}()

	select {
	case <-ctx.Done():
		bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(time.Second))
		return nil
	case err := <-readDone:
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}
}

// describe renders one frame as a line of text.
func describe(msg []byte) string {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return "[text] " + string(msg)
	}
	if f.Type != "state_init" && f.Type != "display_changed" {
		return fmt.Sprintf("[%s] %s", f.Type, f.Data)
	}
	var d display
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return fmt.Sprintf("[%s] bad data: %v", f.Type, err)
	}
	if !d.Visible {
		return fmt.Sprintf("[%s] (hidden) %s", f.Type, d.Label)
	}
	return fmt.Sprintf("[%s] %-12s [%s] theme=%s", f.Type, d.Label, meter(d.Bar), d.Theme.Name)
}

func meter(percent int) string {
	n := min(max(percent*barWidth/100, 0), barWidth)
	return strings.Repeat("#", n) + strings.Repeat("-", barWidth-n)
}
