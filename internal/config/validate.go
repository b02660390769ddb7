package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/parkwatch/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.ReadTimeout <= c.Connection.PingInterval {
		return fmt.Errorf("connection.read_timeout (%s) must exceed ping_interval (%s)",
			c.Connection.ReadTimeout, c.Connection.PingInterval)
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	for _, ch := range c.Connection.Channels {
		if !model.Category(ch).Known() {
			return fmt.Errorf("connection.channels: unknown channel %q", ch)
		}
	}

	for _, f := range []struct {
		name string
		n    int
	}{
		{"feeds.events_capacity", c.Feeds.EventsCapacity},
		{"feeds.sessions_capacity", c.Feeds.SessionsCapacity},
		{"feeds.occupancy_capacity", c.Feeds.OccupancyCapacity},
		{"feeds.status_capacity", c.Feeds.StatusCapacity},
		{"feeds.alerts_capacity", c.Feeds.AlertsCapacity},
		{"feeds.lot_capacity", c.Feeds.LotCapacity},
	} {
		if f.n < 1 {
			return fmt.Errorf("%s must be >= 1", f.name)
		}
	}
	if c.Feeds.ResyncInterval < 0 {
		return errors.New("feeds.resync_interval must be >= 0")
	}
	if c.Feeds.ResyncConcurrency < 1 {
		return errors.New("feeds.resync_concurrency must be >= 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Notify.MQTT.Enabled {
		if c.Notify.MQTT.Broker == "" {
			return errors.New("notify.mqtt.broker is required when mqtt is enabled")
		}
		if c.Notify.MQTT.QoS > 2 {
			return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2, got %d", c.Notify.MQTT.QoS)
		}
	}

	if c.Notify.Journal.Enabled {
		if c.Notify.Journal.BatchSize < 1 {
			return errors.New("notify.journal.batch_size must be >= 1")
		}
		if c.Notify.Journal.BufferSize < 1 {
			return errors.New("notify.journal.buffer_size must be >= 1")
		}
		if err := c.Database.Journal.validate("database.journal"); err != nil {
			return err
		}
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s: missing host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s: scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
