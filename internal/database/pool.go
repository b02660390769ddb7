package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/parkwatch/internal/config"
)

// journalSchema creates the change journal. Rows are append-only. Feed
// versions restart with every process, so the unique key includes the run id;
// within one run it makes a replayed batch a no-op.
const journalSchema = `
CREATE TABLE IF NOT EXISTS feed_changes (
	id          BIGSERIAL PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	run_id      UUID        NOT NULL,
	feed        TEXT        NOT NULL,
	version     BIGINT      NOT NULL,
	kind        TEXT        NOT NULL,
	entity_id   TEXT        NOT NULL DEFAULT '',
	entity      JSONB,
	changed_at  TIMESTAMPTZ NOT NULL
);
ALTER TABLE feed_changes ADD COLUMN IF NOT EXISTS run_id UUID NOT NULL DEFAULT gen_random_uuid();
ALTER TABLE feed_changes DROP CONSTRAINT IF EXISTS feed_changes_instance_id_feed_version_kind_entity_id_key;
CREATE UNIQUE INDEX IF NOT EXISTS feed_changes_run_key
	ON feed_changes (instance_id, run_id, feed, version, kind, entity_id);
CREATE INDEX IF NOT EXISTS feed_changes_feed_changed_at_idx
	ON feed_changes (feed, changed_at DESC);
`

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// OpenJournal connects to the journal database and makes sure the
// feed_changes table exists.
func OpenJournal(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	if _, err := pool.Exec(ctx, journalSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return pool, nil
}
