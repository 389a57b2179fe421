package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/shardline/internal/event"
)

type fakeDB struct {
	mu       sync.Mutex
	execs    []string
	queries  [][]*pgx.QueuedQuery
	execErr  error
	batchErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.execErr
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, b.QueuedQueries)
	return &fakeResults{err: f.batchErr}
}

func (f *fakeDB) rows() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*pgx.QueuedQuery
	for _, q := range f.queries {
		all = append(all, q...)
	}
	return all
}

type fakeResults struct {
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failure(err error) *event.HandlerError {
	return &event.HandlerError{
		EventType: event.TypeMessageCreate,
		Err:       err,
		Handler:   event.HandlerRef{Name: "echo", EventType: event.TypeMessageCreate, Index: 1},
		Event:     event.MessageCreate{ShardID: 3, Content: "hi"},
	}
}

func TestJournal_ReportAndStopFlushes(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(JournalConfig{BatchSize: 10, FlushInterval: time.Hour}, db, discardLogger())
	j.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	require.NoError(t, j.Start(context.Background()))

	require.NoError(t, j.Report(context.Background(), failure(errors.New("boom"))))
	require.NoError(t, j.Stop(context.Background()))

	rows := db.rows()
	require.Len(t, rows, 1)
	args := rows[0].Arguments
	require.Len(t, args, 9)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), args[1])
	assert.Equal(t, "MESSAGE_CREATE", args[2])
	assert.Equal(t, "echo", args[3])
	assert.Equal(t, 1, args[4])
	require.IsType(t, (*int)(nil), args[5])
	assert.Equal(t, 3, *args[5].(*int))
	assert.Equal(t, "boom", args[6])
	assert.Nil(t, args[7])
	assert.Contains(t, string(args[8].([]byte)), `"content":"hi"`)

	stats := j.Stats()
	assert.Equal(t, int64(1), stats.Inserts)
	assert.Equal(t, int64(1), stats.Flushes)
}

func TestJournal_FlushesFullBatch(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(JournalConfig{BatchSize: 2, FlushInterval: time.Hour}, db, discardLogger())
	require.NoError(t, j.Start(context.Background()))
	defer j.Stop(context.Background())

	require.NoError(t, j.Report(context.Background(), failure(errors.New("a"))))
	require.NoError(t, j.Report(context.Background(), failure(errors.New("b"))))

	require.Eventually(t, func() bool {
		return len(db.rows()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestJournal_PanicStack(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(DefaultJournalConfig(), db, discardLogger())

	row := j.transform(failure(&event.PanicError{Value: "oops", Stack: []byte("goroutine 1")}))

	require.NotNil(t, row.PanicStack)
	assert.Equal(t, "goroutine 1", *row.PanicStack)
	assert.Equal(t, "handler panic: oops", row.Error)
	assert.NotEmpty(t, row.ID)
}

func TestJournal_Closed(t *testing.T) {
	j := NewJournal(DefaultJournalConfig(), &fakeDB{}, discardLogger())
	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.Stop(context.Background()))

	err := j.Report(context.Background(), failure(errors.New("late")))
	assert.ErrorIs(t, err, ErrJournalClosed)
}

func TestJournal_QueueFull(t *testing.T) {
	j := NewJournal(JournalConfig{QueueSize: 1}, &fakeDB{}, discardLogger())

	require.NoError(t, j.Report(context.Background(), failure(errors.New("a"))))
	err := j.Report(context.Background(), failure(errors.New("b")))

	assert.ErrorIs(t, err, ErrJournalFull)
	assert.Equal(t, int64(1), j.Stats().Dropped)
}

func TestJournal_InsertError(t *testing.T) {
	boom := errors.New("relation does not exist")
	db := &fakeDB{batchErr: boom}
	j := NewJournal(JournalConfig{BatchSize: 10, FlushInterval: time.Hour}, db, discardLogger())
	require.NoError(t, j.Start(context.Background()))

	require.NoError(t, j.Report(context.Background(), failure(errors.New("x"))))
	err := j.Stop(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), j.Stats().Errors)
	assert.Equal(t, int64(0), j.Stats().Inserts)
}

func TestJournal_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(DefaultJournalConfig(), db, discardLogger())

	require.NoError(t, j.EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS handler_failures")

	db.execErr = errors.New("permission denied")
	assert.ErrorIs(t, j.EnsureSchema(context.Background()), db.execErr)
}

func TestLog_Report(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	err := l.Report(context.Background(), failure(&event.PanicError{Value: "oops", Stack: []byte("trace")}))

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "event handler failed")
	assert.Contains(t, out, "handler=echo")
	assert.Contains(t, out, "shard=3")
	assert.Contains(t, out, "stack=trace")
}

func TestMulti(t *testing.T) {
	var calls []string
	first := event.ReporterFunc(func(context.Context, *event.HandlerError) error {
		calls = append(calls, "first")
		return errors.New("first failed")
	})
	second := event.ReporterFunc(func(context.Context, *event.HandlerError) error {
		calls = append(calls, "second")
		return nil
	})

	err := Multi(first, nil, second).Report(context.Background(), failure(errors.New("x")))

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "first failed"))
	assert.Equal(t, []string{"first", "second"}, calls)
}
