package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// mqttClient is the subset of paho.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// mqttPublisher mirrors the display state to a retained MQTT topic so home
// automation dashboards can show it. PublishDisplay never blocks: only the
// latest pending snapshot is kept, and Run does the network I/O.
type mqttPublisher struct {
	client  mqttClient
	topic   string
	logger  *slog.Logger
	pending chan []byte
}

// defaultMQTTTopic returns volumeosd/<hostname>/state.
func defaultMQTTTopic() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "volumeosd/" + host + "/state"
}

// newMQTTPublisher connects to the configured broker.
func newMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) (*mqttPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(mqttClientID(cfg.ClientID)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	logger.Info("connected to MQTT broker", "broker", cfg.Broker)

	topic := cfg.Topic
	if topic == "" {
		topic = defaultMQTTTopic()
	}
	return newMQTTPublisherWithClient(client, topic, logger), nil
}

// mqttClientID returns id, or a unique one; brokers drop the older of two
// sessions sharing an ID, which two OSD hosts would otherwise do.
func mqttClientID(id string) string {
	if id != "" {
		return id
	}
	return "volumeosd-" + uuid.NewString()[:8]
}

func newMQTTPublisherWithClient(client mqttClient, topic string, logger *slog.Logger) *mqttPublisher {
	return &mqttPublisher{
		client:  client,
		topic:   topic,
		logger:  logger,
		pending: make(chan []byte, 1),
	}
}

// PublishDisplay queues s, replacing any snapshot not yet sent.
func (p *mqttPublisher) PublishDisplay(s DisplayState) {
	payload, err := json.Marshal(s)
	if err != nil {
		p.logger.Warn("mqtt marshal failed", "error", err)
		return
	}
	for {
		select {
		case p.pending <- payload:
			return
		default:
		}
		// Drop the stale snapshot and retry.
		select {
		case <-p.pending:
		default:
		}
	}
}

// Run publishes queued snapshots until ctx is canceled, then disconnects.
func (p *mqttPublisher) Run(ctx context.Context) error {
	defer p.client.Disconnect(1000)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-p.pending:
			if err := p.publish(payload); err != nil {
				p.logger.Warn("mqtt publish failed", "topic", p.topic, "error", err)
			}
		}
	}
}

func (p *mqttPublisher) publish(payload []byte) error {
	// QoS 1, retained: a new subscriber immediately sees the last state.
	token := p.client.Publish(p.topic, 1, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
