package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rickgao/parkwatch/internal/config"
)

// ErrMQTTConnect is returned when the broker cannot be reached at startup.
var ErrMQTTConnect = errors.New("mqtt connect failed")

const (
	mqttKeepAlive         = 60 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
)

// publisher is the part of a paho client MQTT needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTT publishes each record to <prefix>/<feed>/<kind> for wall displays.
// Publishing is fire-and-forget; failures are counted and logged.
type MQTT struct {
	client  publisher
	closer  func()
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// MQTTStats contains publish counters.
type MQTTStats struct {
	Published int64
	Failed    int64
}

// DialMQTT connects to the broker and returns a notifier. paho reconnects on
// its own after the first connection succeeds.
func DialMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})

	client := pahomqtt.NewClient(opts)
	if err := connectMQTT(client, cfg.Timeout); err != nil {
		return nil, err
	}

	m := NewMQTT(client, cfg.TopicPrefix, cfg.QoS, cfg.Timeout, logger)
	m.closer = func() { client.Disconnect(mqttDisconnectQuiesce) }
	return m, nil
}

// connector is the part of pahomqtt.Client used to open a session.
type connector interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
}

// connectMQTT waits up to timeout for the first connection. On failure the
// client is disconnected so paho stops its connect attempts.
func connectMQTT(client connector, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, timeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	return nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client publisher, prefix string, qos byte, timeout time.Duration, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client:  client,
		prefix:  strings.TrimRight(prefix, "/"),
		qos:     qos,
		timeout: timeout,
		logger:  logger,
	}
}

// Topic returns the topic a record is published to.
func (m *MQTT) Topic(r Record) string {
	return m.prefix + "/" + r.Feed + "/" + r.Kind
}

// Notify implements Notifier.
func (m *MQTT) Notify(records []Record) {
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			m.failed.Add(1)
			m.logger.Error("marshal record", "feed", r.Feed, "error", err)
			continue
		}

		topic := m.Topic(r)
		token := m.client.Publish(topic, m.qos, false, payload)
		go m.await(token, topic)
	}
}

func (m *MQTT) await(token pahomqtt.Token, topic string) {
	if !token.WaitTimeout(m.timeout) {
		m.failed.Add(1)
		m.logger.Warn("mqtt publish timed out", "topic", topic, "timeout", m.timeout)
		return
	}
	if err := token.Error(); err != nil {
		m.failed.Add(1)
		m.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	m.published.Add(1)
}

// Stats returns publish counters.
func (m *MQTT) Stats() MQTTStats {
	return MQTTStats{
		Published: m.published.Load(),
		Failed:    m.failed.Load(),
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close(context.Context) error {
	if m.closer != nil {
		m.closer()
	}
	return nil
}
