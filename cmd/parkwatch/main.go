// parkwatch keeps the live views of the parking dashboard in sync with the
// backend and serves them on a local status endpoint.
//
// Usage: parkwatch --config configs/parkwatch.example.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/parkwatch/internal/api"
	"github.com/rickgao/parkwatch/internal/auth"
	"github.com/rickgao/parkwatch/internal/config"
	"github.com/rickgao/parkwatch/internal/dashboard"
	"github.com/rickgao/parkwatch/internal/logging"
	"github.com/rickgao/parkwatch/internal/status"
	"github.com/rickgao/parkwatch/internal/version"
)

const (
	statsInterval   = time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		httpAddr   string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("parkwatch", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/parkwatch.example.yaml", "path to config file")
	flagSet.StringVar(&httpAddr, "http-addr", "", "status server address, overrides http.addr")
	flagSet.StringVar(&logLevel, "log-level", "", "log level, overrides logging.level")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println("parkwatch", version.String())
		return nil
	}

	cfg, err := config.LoadWithDefaults(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSet.Changed("http-addr") {
		cfg.HTTP.Addr = httpAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging, cfg.Instance.ID, version.Version)
	slog.SetDefault(logger)

	logger.Info("starting parkwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.API.WSURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tokens, err := auth.Load(cfg.API.Token, cfg.API.TokenFile)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if exp, ok := tokens.ExpiresAt(); ok {
		logger.Info("bearer token loaded", "expires_at", exp, "expires_in", time.Until(exp).Round(time.Second))
	} else if tokens == nil {
		logger.Warn("no bearer token configured, protected endpoints will fail")
	}

	rest := api.NewClient(
		cfg.API.RestURL,
		tokens,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(version.UserAgent()),
	)

	notifier, err := dashboard.Notifiers(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []dashboard.Option{dashboard.WithLogger(logger)}
	if notifier != nil {
		opts = append(opts, dashboard.WithNotifier(notifier))
	}
	app, err := dashboard.New(cfg, rest, opts...)
	if err != nil {
		if notifier != nil {
			notifier.Close(context.Background())
		}
		return err
	}

	var statusServer *status.Server
	if cfg.HTTP.Addr != "" {
		statusServer = status.New(cfg.HTTP.Addr, app, logger)
		if err := statusServer.Start(ctx); err != nil {
			app.Stop(context.Background())
			return err
		}
	}

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start dashboard", "error", err)
	} else {
		go logStats(ctx, app, logger)
		logger.Info("parkwatch running", "instance_id", cfg.Instance.ID, "status_addr", cfg.HTTP.Addr)
		<-ctx.Done()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if statusServer != nil {
		errs = append(errs, statusServer.Shutdown(shutdownCtx))
	}
	errs = append(errs, app.Stop(shutdownCtx))

	logger.Info("parkwatch stopped")
	return errors.Join(errs...)
}

// logStats periodically logs sync counters.
func logStats(ctx context.Context, app *dashboard.App, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := app.Stats()
			logger.Info("stats",
				"live", app.Live(),
				"state", s.Connection.State.String(),
				"connects", s.Connection.Connects,
				"reconnects", s.Connection.Reconnects,
				"frames", s.Connection.Frames,
				"malformed", s.Connection.MalformedFrames,
				"delivered", s.Registry.Delivered,
				"subscriber_panics", s.Registry.Panics,
				"resync_cycles", s.Resync.Cycles,
				"resync_errors", s.Resync.Errors,
			)
		}
	}
}
