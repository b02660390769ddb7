package resync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/parkwatch/internal/connection"
	"github.com/rickgao/parkwatch/internal/feed"
)

// Target is a feed that can refetch its snapshot. *feed.Feed satisfies it.
type Target interface {
	Name() string
	Refresh(ctx context.Context) error
}

// Config holds resync configuration.
type Config struct {
	Interval    time.Duration // periodic resync, 0 disables
	OnReconnect bool          // resync when the push connection comes back
	Concurrency int           // max concurrent refreshes (default: 4)
	Timeout     time.Duration // per-refresh timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		OnReconnect: true,
		Concurrency: 4,
		Timeout:     30 * time.Second,
	}
}

// Stats contains resync counters.
type Stats struct {
	Cycles    int64
	Refreshed int64
	Errors    int64
	LastRun   time.Time
}

// Resyncer refreshes every target after a reconnect and, optionally, on an
// interval. Push data lost while offline is recovered this way; the registry
// never backfills.
type Resyncer struct {
	cfg     Config
	targets []Target
	logger  *slog.Logger
	trigger chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles    atomic.Int64
	refreshed atomic.Int64
	errors    atomic.Int64
	lastRun   atomic.Int64 // unix nanos
}

// New creates a Resyncer.
func New(cfg Config, targets []Target, logger *slog.Logger) *Resyncer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Resyncer{
		cfg:     cfg,
		targets: targets,
		logger:  logger.With("component", "resync"),
		trigger: make(chan string, 1),
	}
}

// Start begins the resync loop.
func (r *Resyncer) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("resync started",
		"interval", r.cfg.Interval,
		"on_reconnect", r.cfg.OnReconnect,
		"concurrency", r.cfg.Concurrency,
		"targets", len(r.targets),
	)
	return nil
}

// Stop gracefully shuts down the loop.
func (r *Resyncer) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("resync stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a resync. Requests made while one is pending collapse
// into it.
func (r *Resyncer) Trigger(reason string) {
	select {
	case r.trigger <- reason:
	default:
	}
}

// StateListener returns a connection listener that triggers a resync each
// time the connection recovers from Reconnecting.
func (r *Resyncer) StateListener() connection.StateListener {
	return func(from, to connection.State) {
		if r.cfg.OnReconnect && from == connection.StateReconnecting && to == connection.StateConnected {
			r.Trigger("reconnect")
		}
	}
}

// Stats returns resync counters.
func (r *Resyncer) Stats() Stats {
	s := Stats{
		Cycles:    r.cycles.Load(),
		Refreshed: r.refreshed.Load(),
		Errors:    r.errors.Load(),
	}
	if n := r.lastRun.Load(); n != 0 {
		s.LastRun = time.Unix(0, n)
	}
	return s
}

// run is the main loop.
func (r *Resyncer) run() {
	defer r.wg.Done()

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-tick:
			r.RunOnce(r.ctx, "interval")
		case reason := <-r.trigger:
			r.RunOnce(r.ctx, reason)
		}
	}
}

// RunOnce refreshes every target with bounded concurrency and returns the
// number that failed. A closed feed is skipped silently.
func (r *Resyncer) RunOnce(ctx context.Context, reason string) int {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	var refreshed, failed atomic.Int64
	for _, t := range r.targets {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, r.cfg.Timeout)
			defer cancel()

			err := t.Refresh(tctx)
			switch {
			case err == nil:
				refreshed.Add(1)
			case errors.Is(err, feed.ErrFeedClosed):
			default:
				failed.Add(1)
				r.logger.Warn("failed to refresh feed", "feed", t.Name(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.cycles.Add(1)
	r.refreshed.Add(refreshed.Load())
	r.errors.Add(failed.Load())
	r.lastRun.Store(start.UnixNano())

	r.logger.Info("resync cycle complete",
		"reason", reason,
		"feeds", len(r.targets),
		"refreshed", refreshed.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
	return int(failed.Load())
}
