package cursor

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// newTestStore opens a SQLiteStore in a temp directory, closed on cleanup.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(dbPath, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})

	return s
}

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "aware.sync.task.last_uploaded_id.accelerometer", LastUploadedKey("accelerometer"))
	assert.Equal(t, "aware.sync.retries.accelerometer", RetriesKey("accelerometer"))
}

func TestOpen_CreatesSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(dbPath, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"sync_state", "sync_results"} {
		var n int
		require.NoError(t, db.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	// Reopen applies no migrations twice.
	s, err = Open(dbPath, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSQLiteStore_CursorMissingIsZero(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	id, err := s.LastUploadedID(context.Background(), "gyroscope")
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestSQLiteStore_CursorMonotonic(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 100))
	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 40))

	id, err := s.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(100), id, "lower id must not move the cursor back")

	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 250))

	id, err = s.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(250), id)
}

func TestSQLiteStore_CursorsAreIndependent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 10))
	require.NoError(t, s.SetLastUploadedID(ctx, "battery", 3))

	a, err := s.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	b, err := s.LastUploadedID(ctx, "battery")
	require.NoError(t, err)

	assert.Equal(t, int64(10), a)
	assert.Equal(t, int64(3), b)
}

func TestSQLiteStore_ClearCursor(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 10))
	require.NoError(t, s.ClearLastUploadedID(ctx, "accelerometer"))

	id, err := s.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Zero(t, id)

	// Cleared cursors may restart from any id.
	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 2))

	id, err = s.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestSQLiteStore_RetryCounter(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.RetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementRetryCount(ctx, "accelerometer")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	n, err = s.RetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.ResetRetryCount(ctx, "accelerometer"))

	n, err = s.RetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(dbPath, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 77))
	_, err = s.IncrementRetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dbPath, testLogger(t))
	require.NoError(t, err)
	defer s.Close()

	id, err := s.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	n, err := s.RetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_List(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	require.NoError(t, s.SetLastUploadedID(ctx, "battery", 5))
	require.NoError(t, s.SetLastUploadedID(ctx, "accelerometer", 9))
	_, err := s.IncrementRetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	_, err = s.IncrementRetryCount(ctx, "gyroscope")
	require.NoError(t, err)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "accelerometer", entries[0].Collection)
	assert.Equal(t, int64(9), entries[0].LastUploadedID)
	assert.Equal(t, 1, entries[0].Retries)
	assert.True(t, entries[0].UpdatedAt.Equal(fixed))
	assert.Equal(t, "battery", entries[1].Collection)
	assert.Equal(t, int64(5), entries[1].LastUploadedID)
	assert.Equal(t, "gyroscope", entries[2].Collection)
	assert.Zero(t, entries[2].LastUploadedID)
	assert.Equal(t, 1, entries[2].Retries)
}

func TestSQLiteStore_Results(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.LastResult(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Nil(t, r)

	require.NoError(t, s.RecordResult(ctx, Result{Collection: "accelerometer", Success: true, Uploaded: 300}))
	require.NoError(t, s.RecordResult(ctx, Result{Collection: "accelerometer", Err: "transport: timeout"}))

	r, err = s.LastResult(ctx, "accelerometer")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Success)
	assert.Zero(t, r.Uploaded)
	assert.Equal(t, "transport: timeout", r.Err)
	assert.False(t, r.FinishedAt.IsZero())
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.SetLastUploadedID(ctx, "accelerometer", 50))
	require.NoError(t, m.SetLastUploadedID(ctx, "accelerometer", 20))

	id, err := m.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(50), id)

	n, err := m.IncrementRetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Retries)

	require.NoError(t, m.ResetRetryCount(ctx, "accelerometer"))
	require.NoError(t, m.ClearLastUploadedID(ctx, "accelerometer"))

	entries, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOverlay_ReadsThroughAndNeverWritesBase(t *testing.T) {
	t.Parallel()

	base := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, base.SetLastUploadedID(ctx, "accelerometer", 40))
	_, err := base.IncrementRetryCount(ctx, "accelerometer")
	require.NoError(t, err)

	o := NewOverlay(base)

	id, err := o.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(40), id)

	// Lower writes are still rejected against the durable value.
	require.NoError(t, o.SetLastUploadedID(ctx, "accelerometer", 10))
	id, err = o.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(40), id)

	require.NoError(t, o.SetLastUploadedID(ctx, "accelerometer", 90))
	n, err := o.IncrementRetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "counter continues from the base value")

	id, err = o.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(90), id)

	entries, err := o.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(90), entries[0].LastUploadedID)
	assert.Equal(t, 2, entries[0].Retries)

	// Base is untouched.
	id, err = base.LastUploadedID(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, int64(40), id)

	n, err = base.RetryCount(ctx, "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOverlay_ResetHidesBase(t *testing.T) {
	t.Parallel()

	base := NewMemoryStore()
	ctx := context.Background()

	_, err := base.IncrementRetryCount(ctx, "battery")
	require.NoError(t, err)

	o := NewOverlay(base)
	require.NoError(t, o.ResetRetryCount(ctx, "battery"))

	n, err := o.RetryCount(ctx, "battery")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = base.RetryCount(ctx, "battery")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
