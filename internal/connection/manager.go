package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/parkwatch/internal/model"
)

// ErrDisconnected is returned by an in-flight Connect that was overtaken by
// Disconnect.
var ErrDisconnected = errors.New("disconnected")

// Manager owns the single logical push connection of the process.
type Manager interface {
	// Connect opens the connection. It is a no-op unless the manager is
	// Disconnected. When the first dial fails the error is returned and
	// reconnection continues in the background.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and cancels any scheduled reconnect.
	// The manager stays Disconnected until Connect is called again.
	Disconnect()

	// IsConnected reports whether the socket is open.
	IsConnected() bool

	// State returns the current lifecycle state.
	State() State

	// Send is best-effort: it marshals msg as JSON and writes it if
	// connected, reporting whether the write happened.
	Send(msg any) bool

	// OnStateChange registers a listener for state transitions. Listeners
	// run outside the manager's lock and must not block.
	OnStateChange(fn StateListener)

	// Stats returns current counters.
	Stats() ManagerStats
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	sink    Sink
	logger  *slog.Logger
	backoff backoff

	// newClient is swapped in tests.
	newClient func(ClientConfig, *slog.Logger) Client

	mu          sync.Mutex
	state       State
	client      Client
	gen         uint64 // bumped by Connect (from Disconnected) and Disconnect
	intentional bool
	attempt     int
	timer       *time.Timer
	dialCancel  context.CancelFunc
	listeners   []StateListener
	pending     []transition // unreported transitions, oldest first

	notifyMu sync.Mutex // held while listeners run

	connects     atomic.Int64
	reconnects   atomic.Int64
	frames       atomic.Int64
	malformed    atomic.Int64
	unknown      atomic.Int64
	sendFailures atomic.Int64
}

// transition is a state change to report once the lock is released.
type transition struct {
	from, to State
}

// NewManager creates a new Connection Manager. Every data envelope is passed
// to sink in receipt order.
func NewManager(cfg ManagerConfig, sink Sink, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = model.Categories()
	}

	return &manager{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		backoff:   backoff{base: cfg.ReconnectBaseWait, max: cfg.ReconnectMaxWait},
		newClient: NewClient,
	}
}

// Connect opens the connection.
func (m *manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.intentional = false
	m.gen++
	m.attempt = 0
	gen := m.gen
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.flush()

	m.logger.Info("connecting", "url", m.cfg.URL)
	return m.dial(ctx, gen)
}

// Disconnect closes the connection.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	c := m.client
	m.client = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.flush()

	if c != nil {
		if err := c.Close(); err != nil {
			m.logger.Debug("close error", "error", err)
		}
	}
	m.logger.Info("disconnected")
}

// IsConnected reports whether the socket is open.
func (m *manager) IsConnected() bool {
	return m.State() == StateConnected
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes msg if connected.
func (m *manager) Send(msg any) bool {
	m.mu.Lock()
	c := m.client
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || c == nil {
		m.sendFailures.Add(1)
		m.logger.Debug("send skipped, not connected")
		return false
	}
	return m.write(c, msg)
}

// OnStateChange registers fn.
func (m *manager) OnStateChange(fn StateListener) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	return ManagerStats{
		State:           m.State(),
		Connects:        m.connects.Load(),
		Reconnects:      m.reconnects.Load(),
		Frames:          m.frames.Load(),
		MalformedFrames: m.malformed.Load(),
		UnknownFrames:   m.unknown.Load(),
		SendFailures:    m.sendFailures.Load(),
	}
}

// dial opens one socket for generation gen. On failure it schedules the next
// attempt.
func (m *manager) dial(ctx context.Context, gen uint64) error {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.dialCancel = cancel
	m.mu.Unlock()

	c := m.newClient(m.cfg.clientConfig(), m.logger)
	err := c.Connect(dialCtx)

	m.mu.Lock()
	m.dialCancel = nil
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			c.Close()
		}
		return ErrDisconnected
	}
	if err != nil {
		delay := m.scheduleReconnectLocked(gen)
		m.setStateLocked(StateReconnecting)
		attempt := m.attempt
		m.mu.Unlock()
		m.flush()

		m.logger.Warn("connect failed",
			"url", m.cfg.URL,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		return fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	m.client = c
	m.attempt = 0
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("connected", "url", m.cfg.URL, "channels", m.cfg.Channels)

	// The backend forgets subscriptions with the socket.
	m.write(c, model.SubscribeAction(m.cfg.Channels))

	go m.readLoop(c, gen)
	m.flush()
	return nil
}

// scheduleReconnectLocked arms the reconnect timer and returns its delay.
// m.mu must be held.
func (m *manager) scheduleReconnectLocked(gen uint64) time.Duration {
	delay := m.backoff.delay(m.attempt)
	m.attempt++
	m.reconnects.Add(1)

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	return delay
}

// reconnect runs a scheduled attempt.
func (m *manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.intentional {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	attempt := m.attempt
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "attempt", attempt)
	m.dial(context.Background(), gen)
}

// readLoop forwards frames from c until it fails or is closed.
func (m *manager) readLoop(c Client, gen uint64) {
	interval := m.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultClientConfig().PingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.Messages():
			m.handleFrame(msg)

		case err := <-c.Errors():
			m.drain(c)
			m.connectionLost(c, gen, err)
			return

		case <-c.Done():
			return

		case <-ticker.C:
			m.write(c, model.PingAction(time.Now()))
		}
	}
}

// drain forwards frames that were read before the socket failed.
func (m *manager) drain(c Client) {
	for {
		select {
		case msg := <-c.Messages():
			m.handleFrame(msg)
		default:
			return
		}
	}
}

// connectionLost moves to Reconnecting unless the close was intentional.
func (m *manager) connectionLost(c Client, gen uint64, cause error) {
	c.Close()

	m.mu.Lock()
	if gen != m.gen || m.intentional || m.client != c {
		m.mu.Unlock()
		return
	}
	m.client = nil
	delay := m.scheduleReconnectLocked(gen)
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", cause, "retry_in", delay)
	m.flush()
}

// handleFrame parses one frame and emits it if it carries data.
func (m *manager) handleFrame(msg TimestampedMessage) {
	env, err := model.ParseFrame(msg.Data, msg.ReceivedAt)
	if err != nil {
		m.malformed.Add(1)
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		return
	}

	if env.Category.IsControl() {
		m.logger.Debug("control frame", "type", env.Category)
		return
	}
	if !env.Category.Known() {
		m.unknown.Add(1)
		m.logger.Debug("ignoring unknown category", "category", env.Category)
		return
	}

	m.frames.Add(1)
	if m.sink != nil {
		m.sink(env)
	}
}

// write marshals and sends msg on c.
func (m *manager) write(c Client, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		m.sendFailures.Add(1)
		m.logger.Warn("failed to encode outbound message", "error", err)
		return false
	}
	if err := c.Send(data); err != nil {
		m.sendFailures.Add(1)
		m.logger.Debug("send failed", "error", err)
		return false
	}
	return true
}

// setStateLocked records a transition. m.mu must be held.
func (m *manager) setStateLocked(to State) {
	from := m.state
	m.state = to
	if from != to {
		m.pending = append(m.pending, transition{from: from, to: to})
	}
}

// flush reports pending transitions in order. Listeners run without m.mu
// held. A flush attempted while another is in progress (including from
// inside a listener) leaves its transitions to the running one.
func (m *manager) flush() {
	for {
		if !m.notifyMu.TryLock() {
			return
		}
		for {
			m.mu.Lock()
			if len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			t := m.pending[0]
			m.pending = m.pending[1:]
			listeners := append([]StateListener(nil), m.listeners...)
			m.mu.Unlock()

			for _, fn := range listeners {
				fn(t.from, t.to)
			}
		}
		m.notifyMu.Unlock()

		m.mu.Lock()
		empty := len(m.pending) == 0
		m.mu.Unlock()
		if empty {
			return
		}
	}
}
