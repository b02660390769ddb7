// Package logging builds the process's root slog logger from configuration.
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: text    # text, json
//	  output: stderr  # stdout, stderr
//
// Components receive the logger by injection and narrow it with
// logger.With("component", ...).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rickgao/parkwatch/internal/config"
)

// New creates the root logger. Every record carries the service name,
// version and instance id.
func New(cfg config.LoggingConfig, instance, version string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return NewWithWriter(output, cfg, instance, version)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, instance, version string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	attrs := []slog.Attr{
		slog.String("service", "parkwatch"),
		slog.String("version", version),
	}
	if instance != "" {
		attrs = append(attrs, slog.String("instance", instance))
	}

	return slog.New(handler.WithAttrs(attrs))
}

// ParseLevel converts a level name to slog.Level, info if unrecognised.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
