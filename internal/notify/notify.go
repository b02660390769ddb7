package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/parkwatch/internal/feed"
)

// Record is one structured change, flattened out of a feed.Change so
// notifiers need not be generic.
type Record struct {
	Feed    string          `json:"feed"`
	Version uint64          `json:"version"`
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Entity  json.RawMessage `json:"entity,omitempty"`
	At      time.Time       `json:"at"`
}

// Notifier observes feed changes. Notify is called on the dispatch goroutine
// and must not block on I/O.
type Notifier interface {
	Notify(records []Record)
	Close(ctx context.Context) error
}

// Records flattens a change into one Record per op. An entity that fails to
// marshal is sent without a body.
func Records[T any](c feed.Change[T]) []Record {
	out := make([]Record, 0, len(c.Ops))
	for _, op := range c.Ops {
		r := Record{
			Feed:    c.Feed,
			Version: c.Version,
			Kind:    op.Kind.String(),
			ID:      op.ID,
			At:      c.At.UTC(),
		}
		if op.Kind != feed.OpReset {
			if b, err := json.Marshal(op.Entity); err == nil {
				r.Entity = b
			}
		}
		out = append(out, r)
	}
	return out
}

// Attach subscribes n to f's changes and returns the removal func.
func Attach[T any](f *feed.Feed[T], n Notifier) func() {
	return f.OnChange(func(c feed.Change[T]) {
		if records := Records(c); len(records) > 0 {
			n.Notify(records)
		}
	})
}

// Multi fans records out to several notifiers. A notifier that panics is
// logged and skipped; the others still run.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

// Len returns the number of wrapped notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify implements Notifier.
func (m *Multi) Notify(records []Record) {
	for _, n := range m.notifiers {
		m.notifyOne(n, records)
	}
}

func (m *Multi) notifyOne(n Notifier, records []Record) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notifier panicked", "notifier", fmt.Sprintf("%T", n), "panic", r)
		}
	}()
	n.Notify(records)
}

// Close closes every notifier and joins their errors.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each record to a slog logger at info level.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (l *Log) Notify(records []Record) {
	for _, r := range records {
		l.logger.Info("feed change",
			"feed", r.Feed,
			"version", r.Version,
			"kind", r.Kind,
			"id", r.ID,
		)
	}
}

// Close implements Notifier.
func (l *Log) Close(context.Context) error { return nil }
