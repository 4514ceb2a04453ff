package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// The control socket speaks newline-delimited JSON. Each request line is an
// action envelope, {"type":"increase"}, and gets exactly one reply line:
// {"status":"ok"} or {"status":"error","error":"..."}. Actions pass the same
// rate limiter and dispatcher as key presses, so a script behaves like one
// more keyboard.

type ipcReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var replyOK = ipcReply{Status: "ok"}

func replyErr(msg string) ipcReply { return ipcReply{Status: "error", Error: msg} }

const (
	ipcErrRateLimited = "rate_limited"
	ipcErrQueueFull   = "action queue full"
)

type ipcServer struct {
	limiter *rateLimiter
	sink    actionSink
	logger  *slog.Logger
}

// listenUnix binds a world-writable socket at path, replacing a stale one.
func listenUnix(path string) (net.Listener, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// runIPCServer serves the control socket until ctx is canceled and removes
// it on the way out.
func runIPCServer(ctx context.Context, socketPath string, limiter *rateLimiter, sink actionSink, logger *slog.Logger) error {
	ln, err := listenUnix(socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(socketPath)

	s := &ipcServer{limiter: limiter, sink: sink, logger: logger}
	return s.serve(ctx, ln)
}

func (s *ipcServer) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("control socket listening", "socket", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			go s.serveConn(ctx, conn)
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			return nil
		default:
			s.logger.Warn("control socket accept", "error", err)
		}
	}
}

func (s *ipcServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	lines := bufio.NewScanner(conn)
	out := json.NewEncoder(conn)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}
		reply := s.handleLine([]byte(line))
		s.logger.Debug("control request", "line", line, "status", reply.Status, "reason", reply.Error)
		if err := out.Encode(reply); err != nil {
			s.logger.Warn("control reply failed", "error", err)
			return
		}
	}
}

func (s *ipcServer) handleLine(line []byte) ipcReply {
	action, err := UnmarshalAction(line)
	switch {
	case err != nil:
		return replyErr("parse action: " + err.Error())
	case !s.limiter.TryAcquire(action):
		return replyErr(ipcErrRateLimited)
	case !s.sink.Dispatch(action):
		return replyErr(ipcErrQueueFull)
	}
	return replyOK
}
