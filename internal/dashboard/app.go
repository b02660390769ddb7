package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/parkwatch/internal/config"
	"github.com/rickgao/parkwatch/internal/connection"
	"github.com/rickgao/parkwatch/internal/feed"
	"github.com/rickgao/parkwatch/internal/model"
	"github.com/rickgao/parkwatch/internal/notify"
	"github.com/rickgao/parkwatch/internal/resync"
	"github.com/rickgao/parkwatch/internal/router"
	"github.com/rickgao/parkwatch/internal/version"
)

// App errors.
var (
	ErrStarted = errors.New("dashboard already started")
	ErrStopped = errors.New("dashboard stopped")
)

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithNotifier attaches n to every feed. Stop closes it.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) {
		a.notifier = n
	}
}

// Stats aggregates the sync layer's counters.
type Stats struct {
	Connection connection.ManagerStats
	Registry   router.RegistryStats
	Resync     resync.Stats
}

// App is the application context. It owns the single push connection, the
// subscription registry and the REST client, and every feed is built on
// them.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	rest     Snapshots
	notifier notify.Notifier

	registry router.Registry
	manager  connection.Manager
	resync   *resync.Resyncer

	Events    *feed.Feed[model.Event]
	Sessions  *feed.Feed[model.Session]
	Occupancy *feed.Feed[model.Occupancy]
	Barriers  *feed.Feed[model.BarrierStatus]
	Cameras   *feed.Feed[model.CameraStatus]
	Alerts    *feed.Feed[model.SystemAlert]

	sources []feed.Source
	inits   []func(context.Context) error
	detach  []func()

	liveMu        sync.Mutex
	liveListeners map[int]func(bool)
	nextListener  int

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	runDone chan struct{}
}

// New builds the app from a validated config. Nothing connects until Start.
func New(cfg *config.Config, rest Snapshots, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("dashboard: nil config")
	}
	if rest == nil {
		return nil, errors.New("dashboard: nil snapshot client")
	}

	a := &App{
		cfg:           cfg,
		rest:          rest,
		logger:        slog.Default(),
		liveListeners: make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.registry = router.NewRegistry(router.RegistryConfig{
		QueueSize: cfg.Connection.BufferSize,
	}, a.logger)

	a.manager = connection.NewManager(managerConfig(cfg), func(env model.Envelope) {
		a.registry.Publish(env)
	}, a.logger)

	if err := a.buildFeeds(); err != nil {
		return nil, err
	}

	a.resync = resync.New(resync.Config{
		Interval:    cfg.Feeds.ResyncInterval,
		OnReconnect: cfg.Feeds.ResyncOnReconnectEnabled(),
		Concurrency: cfg.Feeds.ResyncConcurrency,
		Timeout:     cfg.API.Timeout,
	}, []resync.Target{a.Events, a.Sessions, a.Occupancy}, a.logger)

	a.manager.OnStateChange(a.resync.StateListener())
	a.manager.OnStateChange(func(from, to connection.State) {
		wasLive := from == connection.StateConnected
		isLive := to == connection.StateConnected
		if wasLive != isLive {
			a.emitLive(isLive)
		}
	})

	return a, nil
}

// managerConfig maps the connection section onto the manager.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.URL = cfg.API.WSURL
	mc.Header = http.Header{"User-Agent": {version.UserAgent()}}
	mc.Channels = channels(cfg.Connection.Channels)
	mc.ReconnectBaseWait = cfg.Connection.ReconnectBaseDelay
	mc.ReconnectMaxWait = cfg.Connection.ReconnectMaxDelay
	mc.PingInterval = cfg.Connection.PingInterval
	mc.ReadTimeout = cfg.Connection.ReadTimeout
	mc.WriteTimeout = cfg.Connection.WriteTimeout
	mc.BufferSize = cfg.Connection.BufferSize
	return mc
}

// channels converts configured channel names, empty meaning all.
func channels(names []string) []model.Category {
	if len(names) == 0 {
		return model.Categories()
	}
	out := make([]model.Category, 0, len(names))
	for _, n := range names {
		out = append(out, model.Category(n))
	}
	return out
}

func (a *App) buildFeeds() error {
	fc := a.cfg.Feeds
	var err error

	if a.Events, err = build(a, EventsSchema(fc.EventsCapacity), recentEvents(a.rest, fc.EventsCapacity)); err != nil {
		return err
	}
	if a.Sessions, err = build(a, SessionsSchema(fc.SessionsCapacity), activeSessions(a.rest, fc.SessionsCapacity)); err != nil {
		return err
	}
	if a.Occupancy, err = build(a, OccupancySchema(fc.OccupancyCapacity), lotOccupancy(a.rest, fc.LotCapacity)); err != nil {
		return err
	}
	if a.Barriers, err = build(a, BarriersSchema(fc.StatusCapacity), pushOnly[model.BarrierStatus]); err != nil {
		return err
	}
	if a.Cameras, err = build(a, CamerasSchema(fc.StatusCapacity), pushOnly[model.CameraStatus]); err != nil {
		return err
	}
	if a.Alerts, err = build(a, AlertsSchema(fc.AlertsCapacity), pushOnly[model.SystemAlert]); err != nil {
		return err
	}
	return nil
}

// build creates one feed, wires the notifier and queues its initialization.
func build[T any](a *App, schema feed.Schema[T], fetcher feed.Fetcher[T]) (*feed.Feed[T], error) {
	f, err := feed.New(schema, a.registry, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build %s feed: %w", schema.Name, err)
	}
	if a.notifier != nil {
		a.detach = append(a.detach, notify.Attach(f, a.notifier))
	}
	a.sources = append(a.sources, f)
	a.inits = append(a.inits, func(ctx context.Context) error {
		return f.Initialize(ctx, fetcher)
	})
	return f, nil
}

// Start runs the dispatch loop, seeds every feed and opens the push
// connection. Snapshot and connection failures are logged, not returned:
// the feeds report them through Status and the manager keeps reconnecting.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.stopped:
		a.mu.Unlock()
		return ErrStopped
	case a.started:
		a.mu.Unlock()
		return ErrStarted
	}
	a.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.runDone = make(chan struct{})
	a.mu.Unlock()

	go func() {
		defer close(a.runDone)
		a.registry.Run(runCtx)
	}()

	if err := a.resync.Start(runCtx); err != nil {
		return fmt.Errorf("start resync: %w", err)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Feeds.ResyncConcurrency, 1) + 1)

	g.Go(func() error {
		if err := a.manager.Connect(gctx); err != nil {
			a.logger.Warn("push connection not up yet, retrying in background", "error", err)
		}
		return ctx.Err()
	})
	for i, load := range a.inits {
		name := a.sources[i].Name()
		g.Go(func() error {
			if err := load(gctx); err != nil {
				a.logger.Warn("feed started without snapshot", "feed", name, "error", err)
			}
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("start aborted: %w", err)
	}

	a.logger.Info("dashboard started",
		"feeds", len(a.sources),
		"live", a.Live(),
		"duration", time.Since(start),
	)
	return nil
}

// Stop disconnects, closes every feed and the notifier, and waits for the
// dispatch loop to drain.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel, runDone := a.cancel, a.runDone
	a.mu.Unlock()

	a.logger.Info("stopping dashboard")

	var errs []error
	a.manager.Disconnect()
	if cancel != nil {
		if err := a.resync.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop resync: %w", err))
		}
	}

	for _, d := range a.detach {
		d()
	}
	for _, s := range a.sources {
		s.Close()
	}

	a.registry.Close()
	if cancel != nil {
		cancel()
		select {
		case <-runDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("registry drain: %w", ctx.Err()))
		}
	}

	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}

	a.logger.Info("dashboard stopped")
	return errors.Join(errs...)
}

// Live reports whether push data is flowing. When false the feeds may be
// stale.
func (a *App) Live() bool {
	return a.manager.IsConnected()
}

// OnLiveChange registers fn for live/offline transitions and returns a
// function that removes it. fn must not block.
func (a *App) OnLiveChange(fn func(live bool)) func() {
	a.liveMu.Lock()
	id := a.nextListener
	a.nextListener++
	a.liveListeners[id] = fn
	a.liveMu.Unlock()

	return func() {
		a.liveMu.Lock()
		delete(a.liveListeners, id)
		a.liveMu.Unlock()
	}
}

func (a *App) emitLive(live bool) {
	a.liveMu.Lock()
	fns := make([]func(bool), 0, len(a.liveListeners))
	for _, fn := range a.liveListeners {
		fns = append(fns, fn)
	}
	a.liveMu.Unlock()

	if live {
		a.logger.Info("live")
	} else {
		a.logger.Warn("offline, feeds may be stale")
	}
	for _, fn := range fns {
		fn(live)
	}
}

// Feeds returns every feed in a fixed order.
func (a *App) Feeds() []feed.Source {
	return slices.Clone(a.sources)
}

// Feed returns the feed with the given name.
func (a *App) Feed(name string) (feed.Source, bool) {
	for _, s := range a.sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Registry returns the shared subscription registry, for building extra
// feeds on the same connection.
func (a *App) Registry() router.Registry {
	return a.registry
}

// Resync asks for every snapshot-backed feed to be refetched.
func (a *App) Resync(reason string) {
	a.resync.Trigger(reason)
}

// TodayStats passes through to the REST API; it has no live feed.
func (a *App) TodayStats(ctx context.Context) (*model.TodayStats, error) {
	return a.rest.TodayStats(ctx)
}

// Stats returns current counters.
func (a *App) Stats() Stats {
	return Stats{
		Connection: a.manager.Stats(),
		Registry:   a.registry.Stats(),
		Resync:     a.resync.Stats(),
	}
}
