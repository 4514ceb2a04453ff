package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type mqttMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mu           sync.Mutex
	published    []mqttMessage
	err          error
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, mqttMessage{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.err}
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeMQTTClient) messages() []mqttMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mqttMessage(nil), c.published...)
}

func (c *fakeMQTTClient) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func TestMQTTPublisher_PublishesRetained(t *testing.T) {
	client := &fakeMQTTClient{}
	p := newMQTTPublisherWithClient(client, "volumeosd/test/state", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.PublishDisplay(DisplayState{}.withAudio(AudioState{Volume: 70}))
	waitUntil(t, time.Second, func() bool { return len(client.messages()) == 1 }, "message published")

	msg := client.messages()[0]
	if msg.topic != "volumeosd/test/state" || msg.qos != 1 || !msg.retained {
		t.Fatalf("message = %+v", msg)
	}
	var s DisplayState
	if err := json.Unmarshal(msg.payload, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Volume != 70 || s.Label != "Volume: 70%" {
		t.Fatalf("payload = %+v", s)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !client.isDisconnected() {
		t.Fatal("expected Disconnect on shutdown")
	}
}

func TestMQTTPublisher_LatestWins(t *testing.T) {
	client := &fakeMQTTClient{}
	p := newMQTTPublisherWithClient(client, "t", discardLogger())

	// Not running yet: snapshots pile up and only the last one survives.
	for v := 10; v <= 50; v += 10 {
		p.PublishDisplay(DisplayState{}.withAudio(AudioState{Volume: v}))
	}
	if len(p.pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(p.pending))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitUntil(t, time.Second, func() bool { return len(client.messages()) == 1 }, "message published")
	var s DisplayState
	if err := json.Unmarshal(client.messages()[0].payload, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Volume != 50 {
		t.Fatalf("published volume %d, want latest 50", s.Volume)
	}
}

func TestMQTTPublisher_PublishErrorKeepsRunning(t *testing.T) {
	client := &fakeMQTTClient{err: errors.New("not connected")}
	p := newMQTTPublisherWithClient(client, "t", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.PublishDisplay(DisplayState{})
	waitUntil(t, time.Second, func() bool { return len(client.messages()) == 1 }, "first attempt")
	p.PublishDisplay(DisplayState{})
	waitUntil(t, time.Second, func() bool { return len(client.messages()) == 2 }, "second attempt")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDefaultMQTTTopic(t *testing.T) {
	topic := defaultMQTTTopic()
	if !strings.HasPrefix(topic, "volumeosd/") || !strings.HasSuffix(topic, "/state") {
		t.Fatalf("topic = %q", topic)
	}
}

func TestMQTTClientID(t *testing.T) {
	if got := mqttClientID("osd-livingroom"); got != "osd-livingroom" {
		t.Fatalf("configured id = %q", got)
	}
	a, b := mqttClientID(""), mqttClientID("")
	if !strings.HasPrefix(a, "volumeosd-") || len(a) != len("volumeosd-")+8 {
		t.Fatalf("generated id = %q", a)
	}
	if a == b {
		t.Fatalf("generated ids collide: %q", a)
	}
}
