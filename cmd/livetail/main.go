// livetail connects to the backend push endpoint and prints envelopes as they
// arrive.
// Usage: go run ./cmd/livetail --config configs/parkwatch.example.yaml --category events
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/parkwatch/internal/config"
	"github.com/rickgao/parkwatch/internal/connection"
	"github.com/rickgao/parkwatch/internal/logging"
	"github.com/rickgao/parkwatch/internal/model"
	"github.com/rickgao/parkwatch/internal/router"
	"github.com/rickgao/parkwatch/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("livetail", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "configs/parkwatch.example.yaml", "path to config file")
	wsURL := flagSet.String("url", "", "push endpoint, overrides api.ws_url")
	categories := flagSet.StringSlice("category", nil, "only print these categories (repeatable)")
	verbose := flagSet.BoolP("verbose", "v", false, "print full payload JSON")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *wsURL != "" {
		cfg.API.WSURL = *wsURL
	}

	cfg.Logging.Level = "debug"
	logger := logging.New(cfg.Logging, cfg.Instance.ID, version.Version)

	var filter router.Filter
	if len(*categories) > 0 {
		cats := make([]model.Category, 0, len(*categories))
		for _, c := range *categories {
			cat := model.Category(c)
			if !cat.Known() {
				return fmt.Errorf("unknown category %q", c)
			}
			cats = append(cats, cat)
		}
		filter = router.ByCategory(cats...)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := router.NewRegistry(router.DefaultRegistryConfig(), logger)
	registry.Subscribe(func(env model.Envelope) {
		printEnvelope(env, *verbose)
	}, filter)

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = cfg.API.WSURL
	connCfg.Header = http.Header{"User-Agent": {version.UserAgent()}}
	connCfg.ReconnectBaseWait = cfg.Connection.ReconnectBaseDelay
	connCfg.ReconnectMaxWait = cfg.Connection.ReconnectMaxDelay

	connMgr := connection.NewManager(connCfg, func(env model.Envelope) {
		registry.Publish(env)
	}, logger)
	connMgr.OnStateChange(func(from, to connection.State) {
		logger.Info("connection state", "from", from.String(), "to", to.String())
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		registry.Run(ctx)
	}()

	logger.Info("connecting", "url", connCfg.URL)
	if err := connMgr.Connect(ctx); err != nil {
		logger.Warn("initial connect failed, retrying", "error", err)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := connMgr.Stats()
				regStats := registry.Stats()
				logger.Info("stats",
					"state", connStats.State.String(),
					"frames", connStats.Frames,
					"malformed", connStats.MalformedFrames,
					"unknown", connStats.UnknownFrames,
					"reconnects", connStats.Reconnects,
					"delivered", regStats.Delivered,
					"filtered", regStats.Filtered,
					"queue", regStats.Queue.Depth,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down...")
	connMgr.Disconnect()
	registry.Close()
	<-done

	logger.Info("shutdown complete")
	return nil
}

func printEnvelope(env model.Envelope, verbose bool) {
	ts := env.ServerTimestamp.Format("15:04:05.000")
	lag := env.ReceivedAt.Sub(env.ServerTimestamp).Round(time.Millisecond)

	if verbose {
		fmt.Printf("[%s] %s lag=%v %s\n", env.Category, ts, lag, env.Payload)
		return
	}
	fmt.Printf("[%s] %s lag=%v %d bytes\n", env.Category, ts, lag, len(env.Payload))
}
