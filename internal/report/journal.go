package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/shardline/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS handler_failures (
	id            UUID PRIMARY KEY,
	occurred_at   TIMESTAMPTZ NOT NULL,
	event_type    TEXT NOT NULL,
	handler       TEXT NOT NULL,
	handler_index INTEGER NOT NULL,
	shard_id      INTEGER,
	error         TEXT NOT NULL,
	panic_stack   TEXT,
	payload       JSONB
)`

const insertFailure = `
	INSERT INTO handler_failures (id, occurred_at, event_type, handler, handler_index, shard_id, error, panic_stack, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// Journal persists handler failures to PostgreSQL in batches.
type Journal struct {
	cfg    JournalConfig
	logger *slog.Logger
	db     DB
	now    func() time.Time

	// Input from Report
	queue  chan failureRow
	qMu    sync.RWMutex
	closed bool

	// Batching
	batch   []failureRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   JournalStats
}

var _ event.Reporter = (*Journal)(nil)

// NewJournal creates a Journal writing through db.
func NewJournal(cfg JournalConfig, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultJournalConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}

	return &Journal{
		cfg:    cfg,
		logger: logger.With("component", "journal"),
		db:     db,
		now:    time.Now,
		queue:  make(chan failureRow, cfg.QueueSize),
		batch:  make([]failureRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the handler_failures table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create handler_failures: %w", err)
	}
	return nil
}

// Start begins consuming reported failures.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(2)
	go j.consumeLoop()
	go j.flushLoop()

	j.logger.Info("failure journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop stops accepting failures, drains the queue and writes the final batch.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping failure journal")

	j.qMu.Lock()
	j.closed = true
	j.qMu.Unlock()

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
		j.logger.Warn("failure journal stop timed out")
	}

drain:
	for {
		select {
		case row := <-j.queue:
			j.append(row)
		default:
			break drain
		}
	}

	return j.flush(ctx)
}

// Report queues the failure. It does not block on the database.
func (j *Journal) Report(_ context.Context, herr *event.HandlerError) error {
	row := j.transform(herr)

	j.qMu.RLock()
	defer j.qMu.RUnlock()

	if j.closed {
		return ErrJournalClosed
	}

	select {
	case j.queue <- row:
		return nil
	default:
		j.statsMu.Lock()
		j.stats.Dropped++
		j.statsMu.Unlock()
		return ErrJournalFull
	}
}

// Stats returns current counters.
func (j *Journal) Stats() JournalStats {
	j.statsMu.Lock()
	defer j.statsMu.Unlock()
	return j.stats
}

// consumeLoop moves queued failures into the batch.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case row := <-j.queue:
			if j.append(row) {
				j.flush(j.ctx)
			}
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

// append adds a row and reports whether the batch is full.
func (j *Journal) append(row failureRow) bool {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	j.batch = append(j.batch, row)
	return len(j.batch) >= j.cfg.BatchSize
}

// transform converts a HandlerError to a row.
func (j *Journal) transform(herr *event.HandlerError) failureRow {
	row := failureRow{
		ID:           uuid.NewString(),
		OccurredAt:   j.now().UTC(),
		EventType:    string(herr.EventType),
		Handler:      herr.Handler.Name,
		HandlerIndex: herr.Handler.Index,
	}
	if herr.Err != nil {
		row.Error = herr.Err.Error()
	}

	if id, ok := shardOf(herr.Event); ok {
		row.ShardID = &id
	}

	var perr *event.PanicError
	if errors.As(herr.Err, &perr) {
		stack := string(perr.Stack)
		row.PanicStack = &stack
	}

	if herr.Event != nil {
		payload, err := json.Marshal(herr.Event)
		if err != nil {
			j.logger.Warn("failed to encode event payload", "event", herr.EventType, "error", err)
		} else {
			row.Payload = payload
		}
	}

	return row
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) error {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	rows := j.batch
	j.batch = make([]failureRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	if err := j.batchInsert(ctx, rows); err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(rows))
		j.statsMu.Lock()
		j.stats.Errors++
		j.statsMu.Unlock()
		return err
	}

	j.statsMu.Lock()
	j.stats.Inserts += int64(len(rows))
	j.stats.Flushes++
	j.statsMu.Unlock()

	j.logger.Debug("flushed handler failures", "count", len(rows), "duration", time.Since(start))
	return nil
}

// batchInsert inserts rows using pgx.Batch.
func (j *Journal) batchInsert(ctx context.Context, rows []failureRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertFailure,
			r.ID, r.OccurredAt, r.EventType, r.Handler, r.HandlerIndex,
			r.ShardID, r.Error, r.PanicStack, r.Payload,
		)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert handler failure: %w", err)
		}
	}
	return nil
}
