package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one push socket. A Client is used for a single open; after its
// first error it must be closed and replaced.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages yields every inbound text frame stamped with its local
	// receipt time.
	Messages() <-chan TimestampedMessage

	// Errors yields at most one error, after which the socket is dead.
	Errors() <-chan error

	// Done is closed by Close.
	Done() <-chan struct{}

	IsConnected() bool
}

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	messages chan TimestampedMessage
	errs     chan error
	done     chan struct{}

	// ws is set once by Connect under mu; the loops it starts read it freely.
	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex

	open   atomic.Bool
	closed atomic.Bool
}

// NewClient returns an unconnected client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrAlreadyClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header.Clone())
	if err != nil {
		if resp != nil {
			// The upgrade was refused; the status says why (401, 404, 503).
			return fmt.Errorf("dial %s: %w (%s)", c.cfg.URL, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if c.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(c.cfg.MaxMessageSize)
	}

	// Control frames arrive on the read goroutine, so the deadline is only
	// ever moved from there.
	ws.SetPingHandler(func(data string) error {
		c.extendDeadline()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	c.mu.Lock()
	if c.closed.Load() {
		// Close raced the dial.
		c.mu.Unlock()
		ws.Close()
		return ErrAlreadyClosed
	}
	c.ws = ws
	c.extendDeadline()
	c.open.Store(true)
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()

	c.logger.Debug("push socket open", "url", c.cfg.URL)
	return nil
}

func (c *client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.open.Store(false)
	close(c.done)

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return ws.Close()
}

func (c *client) Send(data []byte) error {
	if !c.open.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage { return c.messages }
func (c *client) Errors() <-chan error               { return c.errs }
func (c *client) Done() <-chan struct{}              { return c.done }
func (c *client) IsConnected() bool                  { return c.open.Load() }

// extendDeadline pushes the read deadline ReadTimeout into the future. A
// socket that delivers nothing (data, ping or pong) for that long fails its
// next read with a timeout.
func (c *client) extendDeadline() {
	if c.cfg.ReadTimeout <= 0 {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
}

// fail reports err once and marks the socket unusable.
func (c *client) fail(err error) {
	c.open.Store(false)
	select {
	case c.errs <- err:
	default:
	}
}

func (c *client) readLoop() {
	for {
		kind, data, err := c.ws.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			if c.closed.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.logger.Warn("push socket silent, treating as stale", "timeout", c.cfg.ReadTimeout)
				err = fmt.Errorf("%w: %v", ErrStaleConnection, err)
			}
			c.fail(err)
			return
		}

		c.extendDeadline()
		if kind != websocket.TextMessage {
			continue
		}

		// Block rather than drop: a dropped frame would silently diverge
		// every feed from the backend.
		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends control pings so a healthy peer keeps answering with pongs.
func (c *client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}
