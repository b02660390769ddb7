package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "http://localhost:8000/api/v1"
	DefaultWSURL              = "ws://localhost:8000/ws"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultReadTimeout        = 45 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 1024
	DefaultEventsCapacity     = 50
	DefaultSessionsCapacity   = 200
	DefaultOccupancyCapacity  = 16
	DefaultStatusCapacity     = 32
	DefaultAlertsCapacity     = 50
	DefaultLotCapacity        = 100
	DefaultResyncConcurrency  = 4
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultLogOutput          = "stderr"
	DefaultMQTTClientID       = "parkwatch"
	DefaultMQTTTopicPrefix    = "parkwatch"
	DefaultMQTTTimeout        = 5 * time.Second
	DefaultJournalBatchSize   = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultJournalBufferSize  = 10000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ReadTimeout == 0 {
		c.Connection.ReadTimeout = DefaultReadTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Feed defaults
	if c.Feeds.EventsCapacity == 0 {
		c.Feeds.EventsCapacity = DefaultEventsCapacity
	}
	if c.Feeds.SessionsCapacity == 0 {
		c.Feeds.SessionsCapacity = DefaultSessionsCapacity
	}
	if c.Feeds.OccupancyCapacity == 0 {
		c.Feeds.OccupancyCapacity = DefaultOccupancyCapacity
	}
	if c.Feeds.StatusCapacity == 0 {
		c.Feeds.StatusCapacity = DefaultStatusCapacity
	}
	if c.Feeds.AlertsCapacity == 0 {
		c.Feeds.AlertsCapacity = DefaultAlertsCapacity
	}
	if c.Feeds.LotCapacity == 0 {
		c.Feeds.LotCapacity = DefaultLotCapacity
	}
	if c.Feeds.ResyncConcurrency == 0 {
		c.Feeds.ResyncConcurrency = DefaultResyncConcurrency
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}

	// Notify defaults
	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = DefaultMQTTClientID
	}
	if c.Notify.MQTT.TopicPrefix == "" {
		c.Notify.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if c.Notify.MQTT.Timeout == 0 {
		c.Notify.MQTT.Timeout = DefaultMQTTTimeout
	}
	if c.Notify.Journal.BatchSize == 0 {
		c.Notify.Journal.BatchSize = DefaultJournalBatchSize
	}
	if c.Notify.Journal.FlushInterval == 0 {
		c.Notify.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Notify.Journal.BufferSize == 0 {
		c.Notify.Journal.BufferSize = DefaultJournalBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Journal)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
