package config

import "time"

// Config is the root configuration for a parkwatch instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Logging    LoggingConfig    `yaml:"logging"`
	Notify     NotifyConfig     `yaml:"notify"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// InstanceConfig identifies this dashboard client.
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Site string `yaml:"site"`
}

// APIConfig holds parking backend settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"` // includes /api/v1
	WSURL      string        `yaml:"ws_url"`
	Token      string        `yaml:"token"`      // bearer token, wins over token_file
	TokenFile  string        `yaml:"token_file"` // re-read when it changes
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds push connection settings.
type ConnectionConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
	Channels           []string      `yaml:"channels"` // empty means all
}

// FeedsConfig holds reconciliation and resync settings.
type FeedsConfig struct {
	EventsCapacity    int           `yaml:"events_capacity"`
	SessionsCapacity  int           `yaml:"sessions_capacity"`
	OccupancyCapacity int           `yaml:"occupancy_capacity"`
	StatusCapacity    int           `yaml:"status_capacity"` // barrier and camera feeds
	AlertsCapacity    int           `yaml:"alerts_capacity"`
	LotCapacity       int           `yaml:"lot_capacity"` // spaces per lot, for derived occupancy
	ResyncOnReconnect *bool         `yaml:"resync_on_reconnect"`
	ResyncInterval    time.Duration `yaml:"resync_interval"` // 0 disables periodic resync
	ResyncConcurrency int           `yaml:"resync_concurrency"`
}

// LoggingConfig configures the root slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr
}

// NotifyConfig selects the change notifiers.
type NotifyConfig struct {
	Log     bool          `yaml:"log"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Journal JournalConfig `yaml:"journal"`
}

// MQTTConfig holds the broker settings for wall display notifications.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"` // tcp://host:1883
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// JournalConfig holds the change journal writer settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the journal database. Only used when the journal is
// enabled.
type DatabaseConfig struct {
	Journal DBConfig `yaml:"journal"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HTTPConfig holds the local status server settings. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ResyncOnReconnectEnabled reports whether feeds are refreshed after a
// reconnect. Defaults to true.
func (f FeedsConfig) ResyncOnReconnectEnabled() bool {
	return f.ResyncOnReconnect == nil || *f.ResyncOnReconnect
}
