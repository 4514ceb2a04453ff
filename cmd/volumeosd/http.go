package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// statusReport is the /status payload.
type statusReport struct {
	Version    string          `json:"version"`
	Readers    []ReaderStats   `json:"readers"`
	Dispatcher DispatcherStats `json:"dispatcher"`
	Display    DisplayState    `json:"display"`
	WSClients  int             `json:"ws_clients"`

	// HeldModifiers counts holders per modifier class. A class stuck above
	// zero means a device went away with the key down.
	HeldModifiers map[ModifierClass]int `json:"held_modifiers"`
	RateLimitMS   map[string]int64      `json:"rate_limit_ms"`
}

// newHTTPMux wires /ws (display state stream) and /status.
func newHTTPMux(hub *displayHub, status func() statusReport, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", &displayWSHandler{logger: logger, hub: hub})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			logger.Warn("status encode failed", "error", err)
		}
	})
	return mux
}

// runHTTPServer serves handler on addr until ctx is canceled, then shuts
// down gracefully.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveHTTP(ctx, ln, handler, logger)
}

func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("http server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
