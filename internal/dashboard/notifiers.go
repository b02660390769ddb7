package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/parkwatch/internal/config"
	"github.com/rickgao/parkwatch/internal/database"
	"github.com/rickgao/parkwatch/internal/notify"
)

// journal closes its pool after the final flush.
type journal struct {
	*notify.Journal
	pool *pgxpool.Pool
}

func (j journal) Close(ctx context.Context) error {
	err := j.Journal.Close(ctx)
	j.pool.Close()
	return err
}

// Notifiers builds the notifiers enabled in cfg. It returns nil when none
// are. Already opened notifiers are closed when a later one fails.
func Notifiers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var notifiers []notify.Notifier
	fail := func(err error) (notify.Notifier, error) {
		notify.NewMulti(logger, notifiers...).Close(ctx)
		return nil, err
	}

	if cfg.Notify.Log {
		notifiers = append(notifiers, notify.NewLog(logger))
	}

	if cfg.Notify.MQTT.Enabled {
		m, err := notify.DialMQTT(cfg.Notify.MQTT, logger)
		if err != nil {
			return fail(fmt.Errorf("mqtt notifier: %w", err))
		}
		notifiers = append(notifiers, m)
		logger.Info("mqtt notifier enabled",
			"broker", cfg.Notify.MQTT.Broker,
			"topic_prefix", cfg.Notify.MQTT.TopicPrefix,
		)
	}

	if jc := cfg.Notify.Journal; jc.Enabled {
		pool, err := database.OpenJournal(ctx, cfg.Database.Journal)
		if err != nil {
			return fail(fmt.Errorf("journal notifier: %w", err))
		}
		j := notify.NewJournal(notify.JournalConfig{
			Instance:      cfg.Instance.ID,
			BatchSize:     jc.BatchSize,
			FlushInterval: jc.FlushInterval,
			BufferSize:    jc.BufferSize,
		}, pool, logger)
		if err := j.Start(ctx); err != nil {
			pool.Close()
			return fail(fmt.Errorf("start journal: %w", err))
		}
		notifiers = append(notifiers, journal{Journal: j, pool: pool})
		logger.Info("journal notifier enabled",
			"host", cfg.Database.Journal.Host,
			"database", cfg.Database.Journal.Name,
		)
	}

	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	}
	return notify.NewMulti(logger, notifiers...), nil
}
