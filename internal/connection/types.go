package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/parkwatch/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the lifecycle state of the logical push connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Sink receives every parsed data envelope, in receipt order. It is called
// from the connection's read goroutine and must not block.
type Sink func(model.Envelope)

// StateListener observes state transitions.
type StateListener func(from, to State)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Push endpoint (e.g., ws://localhost:8000/ws)
	Header           http.Header   // Extra handshake headers (Authorization, User-Agent)
	PingInterval     time.Duration // Interval between websocket ping control frames
	ReadTimeout      time.Duration // Max time without any inbound frame before the socket is stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake deadline
	BufferSize       int           // Message channel buffer size
	MaxMessageSize   int64         // Read limit per frame, 0 = unlimited
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1024,
		MaxMessageSize:   1 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string           // Push endpoint
	Header            http.Header      // Handshake headers
	Channels          []model.Category // Sent in the subscribe action after every open
	ReconnectBaseWait time.Duration    // First reconnect delay ceiling
	ReconnectMaxWait  time.Duration    // Backoff cap
	PingInterval      time.Duration    // Heartbeat period (control ping + app-level ping)
	ReadTimeout       time.Duration    // Stale-connection threshold
	WriteTimeout      time.Duration    // Write deadline
	HandshakeTimeout  time.Duration    // Dial deadline
	BufferSize        int              // Per-connection inbound frame buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	client := DefaultClientConfig()
	return ManagerConfig{
		Channels:          model.Categories(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		PingInterval:      client.PingInterval,
		ReadTimeout:       client.ReadTimeout,
		WriteTimeout:      client.WriteTimeout,
		HandshakeTimeout:  client.HandshakeTimeout,
		BufferSize:        client.BufferSize,
	}
}

// clientConfig derives the per-socket config.
func (c ManagerConfig) clientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = c.URL
	cfg.Header = c.Header
	if c.PingInterval > 0 {
		cfg.PingInterval = c.PingInterval
	}
	if c.ReadTimeout > 0 {
		cfg.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	if c.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = c.HandshakeTimeout
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	return cfg
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State           State
	Connects        int64 // successful opens
	Reconnects      int64 // scheduled reconnect attempts
	Frames          int64 // data envelopes emitted
	MalformedFrames int64 // dropped, unparseable
	UnknownFrames   int64 // dropped, unknown category
	SendFailures    int64 // best-effort sends that did not go out
}
