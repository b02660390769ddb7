package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/parkwatch/internal/router"
)

// batchSender is the part of *pgxpool.Pool the journal uses.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// JournalConfig holds batch settings.
type JournalConfig struct {
	Instance      string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // records held before new ones are dropped
}

// DefaultJournalConfig returns production defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// JournalMetrics contains writer counters.
type JournalMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// journalRow is one feed_changes row.
type journalRow struct {
	Feed      string
	Version   int64
	Kind      string
	EntityID  string
	Entity    []byte
	ChangedAt time.Time
}

// Journal appends records to the feed_changes table in batches. Notify only
// queues; a consumer goroutine batches and a ticker flushes.
type Journal struct {
	cfg    JournalConfig
	logger *slog.Logger
	runID  uuid.UUID // distinguishes this process's versions from earlier runs

	input *router.Queue[Record]

	db batchSender

	batch   []journalRow
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics JournalMetrics
}

// NewJournal creates a journal writer. db is normally a *pgxpool.Pool.
func NewJournal(cfg JournalConfig, db batchSender, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	runID := uuid.New()
	return &Journal{
		cfg:    cfg,
		runID:  runID,
		db:     db,
		logger: logger.With("component", "journal", "run_id", runID),
		input:  router.NewQueue[Record](64),
		batch:  make([]journalRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Notify implements Notifier.
func (j *Journal) Notify(records []Record) {
	for _, r := range records {
		full := j.cfg.BufferSize > 0 && j.input.Len() >= j.cfg.BufferSize
		if full || !j.input.Push(r) {
			j.batchMu.Lock()
			j.metrics.Dropped++
			j.batchMu.Unlock()
		}
	}
}

// Close implements Notifier: it drains queued records, flushes, and stops.
func (j *Journal) Close(ctx context.Context) error {
	j.logger.Info("stopping journal")

	j.input.Close()
	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
	}

	// Final flush, including anything Start never got to consume.
	for {
		r, ok := j.input.TryPop()
		if !ok {
			break
		}
		j.add(r)
	}
	j.flush(ctx)

	j.logger.Info("journal stopped")
	return nil
}

// RunID identifies the rows this journal writes.
func (j *Journal) RunID() uuid.UUID { return j.runID }

// Stats returns current metrics.
func (j *Journal) Stats() JournalMetrics {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

// consumeLoop moves records from the queue into the batch until the queue is
// closed and drained.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		r, ok := j.input.Pop()
		if !ok {
			return
		}
		if j.add(r) {
			j.flush(j.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flush(j.ctx)
		}
	}
}

// add appends a record and reports whether the batch is full.
func (j *Journal) add(r Record) bool {
	row := transform(r)

	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	j.batch = append(j.batch, row)
	return len(j.batch) >= j.cfg.BatchSize
}

func transform(r Record) journalRow {
	return journalRow{
		Feed:      r.Feed,
		Version:   int64(r.Version),
		Kind:      r.Kind,
		EntityID:  r.ID,
		Entity:    r.Entity,
		ChangedAt: r.At,
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]journalRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	if j.db == nil {
		return
	}

	// Flushing during shutdown runs on an already cancelled context.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed journal",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []journalRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO feed_changes (instance_id, run_id, feed, version, kind, entity_id, entity, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (instance_id, run_id, feed, version, kind, entity_id) DO NOTHING
		`, j.cfg.Instance, j.runID.String(), r.Feed, r.Version, r.Kind, r.EntityID, r.Entity, r.ChangedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
