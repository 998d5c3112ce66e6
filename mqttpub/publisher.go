// Package mqttpub mirrors device broadcasts to an MQTT broker.
package mqttpub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"fan-monitor/retry"
)

const (
	qosAtLeastOnce = 0x01

	publishTimeout = 5 * time.Second
)

// Client is the subset of MQTT.Client the publisher needs.
type Client interface {
	Connect() MQTT.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Disconnect(quiesce uint)
}

// Publisher publishes every event to <prefix>/<event>, retained, so that
// a late subscriber immediately gets the last table.
type Publisher struct {
	client Client
	prefix string
}

// NewClientOptions returns the options used for the broker connection.
func NewClientOptions(broker, clientID string) *MQTT.ClientOptions {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		slog.Warn("MQTT connection lost", "err", err)
	})
	return opts
}

func New(client Client, prefix string) *Publisher {
	return &Publisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// Connect connects to the broker, retrying with cfg.
func (p *Publisher) Connect(ctx context.Context, cfg retry.Config) error {
	cfg.OnError = func(attempt int, err error) {
		slog.Error("Could not connect to MQTT, retry...", "attempt", attempt, "err", err)
	}
	err := retry.Do(ctx, cfg, func() error {
		return waitToken(p.client.Connect(), publishTimeout)
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	slog.Info("Connected to MQTT broker", "prefix", p.prefix)
	return nil
}

// Topic returns the topic an event is published to.
func (p *Publisher) Topic(event string) string {
	return p.prefix + "/" + event
}

// Publish implements server.Mirror.
func (p *Publisher) Publish(event string, payload []byte) error {
	topic := p.Topic(event)
	if err := waitToken(p.client.Publish(topic, qosAtLeastOnce, true, payload), publishTimeout); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func waitToken(token MQTT.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.New("timed out waiting for broker")
	}
	return token.Error()
}
