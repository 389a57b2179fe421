package report

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Errors
var (
	ErrJournalFull   = errors.New("failure journal queue full")
	ErrJournalClosed = errors.New("failure journal closed")
)

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// JournalConfig holds journal batching configuration.
type JournalConfig struct {
	BatchSize     int           // Default: 100
	FlushInterval time.Duration // Default: 1s
	QueueSize     int           // Default: 1000
}

// DefaultJournalConfig returns default configuration.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		QueueSize:     1000,
	}
}

// JournalStats tracks journal activity.
type JournalStats struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

// failureRow is one handler_failures row.
type failureRow struct {
	ID           string
	OccurredAt   time.Time
	EventType    string
	Handler      string
	HandlerIndex int
	ShardID      *int
	Error        string
	PanicStack   *string
	Payload      []byte
}
