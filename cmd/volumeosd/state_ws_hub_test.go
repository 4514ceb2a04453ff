package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Subscribers here have a nil conn; the hub only touches queues and
// shutdown tolerates a nil conn.

func newTestHub(t *testing.T, queue int, backlog int) *displayHub {
	t.Helper()
	return newDisplayHub(discardLogger(), hubOptions{
		QueueSize:   queue,
		BacklogSize: backlog,
	})
}

func newTestSubscriber(hub *displayHub, name string, buf int) *wsClient {
	return &wsClient{
		hub:    hub,
		queue:  make(chan []byte, buf),
		addr:   name,
		logger: discardLogger(),
	}
}

func runHub(t *testing.T, hub *displayHub) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return cancel, done
}

func joinAndWait(t *testing.T, hub *displayHub, c *wsClient) {
	t.Helper()
	hub.join <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.subs[c]
		return ok
	}, c.addr+" did not join in time")
}

func TestDisplayHub_FrameReachesEverySubscriber(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, done := runHub(t, hub)

	c1 := newTestSubscriber(hub, "c1", 4)
	c2 := newTestSubscriber(hub, "c2", 4)
	joinAndWait(t, hub, c1)
	joinAndWait(t, hub, c2)

	if n := hub.Subscribers(); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}

	msg := []byte(`{"type":"display_changed","data":{"volume":40}}`)
	hub.frames <- msg

	for _, c := range []*wsClient{c1, c2} {
		select {
		case got := <-c.queue:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.addr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.addr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for hub to stop")
	}

	// Shutdown closes every client queue.
	if _, ok := <-c1.queue; ok {
		t.Fatal("expected c1 queue closed on shutdown")
	}
	if n := hub.Subscribers(); n != 0 {
		t.Fatalf("Subscribers after shutdown = %d", n)
	}
}

func TestDisplayHub_EvictsSubscriberWithFullQueue(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	cancel, _ := runHub(t, hub)
	defer cancel()

	slow := newTestSubscriber(hub, "slow", 1)
	fast := newTestSubscriber(hub, "fast", 8)
	joinAndWait(t, hub, slow)
	joinAndWait(t, hub, fast)

	slow.queue <- []byte(`"already queued"`)

	msg := []byte(`{"type":"display_changed","data":{"muted":true}}`)
	hub.frames <- msg

	select {
	case got := <-fast.queue:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.queue:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.queue:
			return !ok
		default:
			return false
		}
	}, "expected slow queue to be closed")

	if n := hub.Subscribers(); n != 1 {
		t.Fatalf("Subscribers = %d, want 1", n)
	}
}

// TestDisplayHub_StateInitTakenOnJoin: the snapshot is read by Run when the
// subscriber joins, so state changed before the join shows up in
// state_init and is not lost.
func TestDisplayHub_StateInitTakenOnJoin(t *testing.T) {
	var (
		mu      sync.Mutex
		current = DisplayState{}.withAudio(AudioState{Volume: 10})
	)
	hub := newDisplayHub(discardLogger(), hubOptions{
		QueueSize:   4,
		BacklogSize: 8,
		Snapshot: func() DisplayState {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	})
	cancel, _ := runHub(t, hub)
	defer cancel()

	c := newTestSubscriber(hub, "c", 4)
	// A change after the subscriber exists but before it joins.
	mu.Lock()
	current = current.withAudio(AudioState{Volume: 60})
	mu.Unlock()
	joinAndWait(t, hub, c)

	hub.PublishDisplay(current.withAudio(AudioState{Volume: 65}))

	for _, want := range []struct {
		typ    string
		volume int
	}{{"state_init", 60}, {"display_changed", 65}} {
		select {
		case raw := <-c.queue:
			var env struct {
				Type string       `json:"type"`
				Data DisplayState `json:"data"`
			}
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Type != want.typ || env.Data.Volume != want.volume {
				t.Fatalf("frame = %s %+v, want %s volume %d", env.Type, env.Data, want.typ, want.volume)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s", want.typ)
		}
	}
}

// TestDisplayHub_StoppedHubDoesNotBlock: joins and leaves after Run has
// returned finish at once.
func TestDisplayHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, done := runHub(t, hub)
	cancel()
	<-done

	// More leaves than the leave buffer holds.
	finished := make(chan bool, 1)
	go func() {
		for i := 0; i < 64; i++ {
			hub.unsubscribe(newTestSubscriber(hub, "gone", 1))
		}
		finished <- hub.subscribe(newTestSubscriber(hub, "late", 1))
	}()
	select {
	case joined := <-finished:
		if joined {
			t.Fatal("subscribe reported success on a stopped hub")
		}
	case <-time.After(time.Second):
		t.Fatal("join or leave blocked on a stopped hub")
	}
}

func TestHTTPMux_WebsocketAfterHubStopped(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, done := runHub(t, hub)
	cancel()
	<-done

	srv := httptest.NewServer(newHTTPMux(hub, func() statusReport { return statusReport{} }, discardLogger()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close the connection")
	}
}

func TestDisplayHub_PublishDisplayEnvelope(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, _ := runHub(t, hub)
	defer cancel()

	c := newTestSubscriber(hub, "c", 4)
	joinAndWait(t, hub, c)

	hub.PublishDisplay(DisplayState{}.withAudio(AudioState{Volume: 35}))

	select {
	case raw := <-c.queue:
		var env struct {
			Type string       `json:"type"`
			Ts   *time.Time   `json:"ts"`
			Data DisplayState `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type != "display_changed" || env.Ts == nil {
			t.Fatalf("envelope = %s", raw)
		}
		if env.Data.Volume != 35 || env.Data.Label != "Volume: 35%" {
			t.Fatalf("data = %+v", env.Data)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for display frame")
	}
}

func TestDisplayHub_PublishDropsWhenBacklogFull(t *testing.T) {
	hub := newTestHub(t, 1, 1) // not running: nothing drains frames

	hub.publish([]byte("a"))
	done := make(chan struct{})
	go func() {
		hub.publish([]byte("b"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	if len(hub.frames) != 1 {
		t.Fatalf("expected one queued frame, got %d", len(hub.frames))
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, DisplayState) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Type string       `json:"type"`
		Data DisplayState `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return env.Type, env.Data
}

func TestHTTPMux_WebsocketStateInitThenChanges(t *testing.T) {
	current := DisplayState{Theme: themes["wood"]}.withAudio(AudioState{Volume: 20})
	hub := newDisplayHub(discardLogger(), hubOptions{
		QueueSize:   8,
		BacklogSize: 8,
		Snapshot:    func() DisplayState { return current },
	})
	cancel, _ := runHub(t, hub)
	defer cancel()

	mux := newHTTPMux(hub, func() statusReport { return statusReport{} }, discardLogger())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	typ, s := readEnvelope(t, conn)
	if typ != "state_init" || s.Volume != 20 || s.Theme.Name != "wood" {
		t.Fatalf("first frame = %s %+v", typ, s)
	}

	waitUntil(t, time.Second, func() bool { return hub.Subscribers() == 1 }, "subscriber joined")
	hub.PublishDisplay(current.withAudio(AudioState{Volume: 25}))

	typ, s = readEnvelope(t, conn)
	if typ != "display_changed" || s.Volume != 25 {
		t.Fatalf("second frame = %s %+v", typ, s)
	}

	conn.Close()
	waitUntil(t, time.Second, func() bool { return hub.Subscribers() == 0 }, "subscriber left after close")
}

func TestHTTPMux_Status(t *testing.T) {
	hub := newTestHub(t, 1, 1)
	status := func() statusReport {
		return statusReport{
			Version:    version,
			Readers:    []ReaderStats{{Device: "/dev/input/event3", State: "listening", Emitted: 4}},
			Dispatcher: DispatcherStats{Dispatched: 4, Delivered: 4},
		}
	}
	mux := newHTTPMux(hub, status, discardLogger())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var got statusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Version != version || len(got.Readers) != 1 || got.Readers[0].Emitted != 4 || got.Dispatcher.Delivered != 4 {
		t.Fatalf("status = %+v", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status code = %d", rec.Code)
	}
}

func TestServeHTTP_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runHTTPServer(ctx, "127.0.0.1:0", http.NotFoundHandler(), discardLogger())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHTTPServer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
