package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/parkwatch/internal/dashboard"
	"github.com/rickgao/parkwatch/internal/feed"
	"github.com/rickgao/parkwatch/internal/model"
)

const (
	readHeaderTimeout = 5 * time.Second
	upstreamTimeout   = 10 * time.Second
)

// Dashboard is what the status server reads. *dashboard.App satisfies it.
type Dashboard interface {
	Live() bool
	Feeds() []feed.Source
	Feed(name string) (feed.Source, bool)
	TodayStats(ctx context.Context) (*model.TodayStats, error)
	Resync(reason string)
	Stats() dashboard.Stats
}

// Server is the local status HTTP server.
type Server struct {
	addr   string
	app    Dashboard
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a server. It does not listen until Start.
func New(addr string, app Dashboard, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		app:    app,
		logger: logger.With("component", "status"),
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/today", s.handleTodayStats)
	r.Post("/resync", s.handleResync)
	r.Route("/feeds", func(r chi.Router) {
		r.Get("/", s.handleFeeds)
		r.Get("/{name}", s.handleFeed)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("status server already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	<-done
	s.logger.Info("status server stopped")
	return nil
}
