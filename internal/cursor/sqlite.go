package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

const (
	sqlGetValue = `SELECT value FROM sync_state WHERE key = ?`

	// Cursor writes never move backwards: a replayed or out-of-order write
	// keeps the higher id.
	sqlSetCursor = `INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = MAX(sync_state.value, excluded.value),
		 updated_at = excluded.updated_at`

	sqlIncrement = `INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = sync_state.value + 1,
		 updated_at = excluded.updated_at
		RETURNING value`

	sqlDeleteKey = `DELETE FROM sync_state WHERE key = ?`

	sqlListState = `SELECT key, value, updated_at FROM sync_state`

	sqlUpsertResult = `INSERT INTO sync_results (collection, success, uploaded, error, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
		 success = excluded.success,
		 uploaded = excluded.uploaded,
		 error = excluded.error,
		 finished_at = excluded.finished_at`

	sqlGetResult = `SELECT success, uploaded, error, finished_at FROM sync_results WHERE collection = ?`
)

// SQLiteStore is the durable cursor store. Every method is a single
// statement, so per-key reads and writes are atomic and the store is safe
// for concurrent use across collections.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the state database at dbPath and applies
// pending migrations. WAL with synchronous=FULL keeps a confirmed cursor
// write durable across power loss.
func Open(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cursor: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("cursor store opened", slog.String("db_path", dbPath))

	return &SQLiteStore{
		db:      db,
		path:    dbPath,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LastUploadedID returns the collection's cursor, or 0 when none is stored.
func (s *SQLiteStore) LastUploadedID(ctx context.Context, collection string) (int64, error) {
	v, err := s.getValue(ctx, LastUploadedKey(collection))
	if err != nil {
		return 0, fmt.Errorf("cursor: reading %s: %w", collection, err)
	}

	return v, nil
}

// SetLastUploadedID advances the collection's cursor to id. A lower id than
// the stored one is ignored.
func (s *SQLiteStore) SetLastUploadedID(ctx context.Context, collection string, id int64) error {
	if _, err := s.db.ExecContext(ctx, sqlSetCursor,
		LastUploadedKey(collection), id, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("cursor: writing %s: %w", collection, err)
	}

	s.logger.Debug("cursor advanced",
		slog.String("collection", collection),
		slog.Int64("last_uploaded_id", id),
	)

	return nil
}

// ClearLastUploadedID removes the collection's cursor so the next session
// starts from the beginning.
func (s *SQLiteStore) ClearLastUploadedID(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteKey, LastUploadedKey(collection)); err != nil {
		return fmt.Errorf("cursor: clearing %s: %w", collection, err)
	}

	return nil
}

// RetryCount returns the persisted concurrent-run retry counter.
func (s *SQLiteStore) RetryCount(ctx context.Context, collection string) (int, error) {
	v, err := s.getValue(ctx, RetriesKey(collection))
	if err != nil {
		return 0, fmt.Errorf("cursor: reading retries of %s: %w", collection, err)
	}

	return int(v), nil
}

// IncrementRetryCount adds one to the retry counter and returns the new
// value.
func (s *SQLiteStore) IncrementRetryCount(ctx context.Context, collection string) (int, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, sqlIncrement,
		RetriesKey(collection), s.nowFunc().UnixNano()).Scan(&v); err != nil {
		return 0, fmt.Errorf("cursor: incrementing retries of %s: %w", collection, err)
	}

	return int(v), nil
}

// ResetRetryCount removes the retry counter.
func (s *SQLiteStore) ResetRetryCount(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteKey, RetriesKey(collection)); err != nil {
		return fmt.Errorf("cursor: resetting retries of %s: %w", collection, err)
	}

	return nil
}

// List returns the persisted state of every collection that has a cursor
// or a retry counter, sorted by collection name.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqlListState)
	if err != nil {
		return nil, fmt.Errorf("cursor: listing state: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*Entry)
	entry := func(name string) *Entry {
		e, ok := byName[name]
		if !ok {
			e = &Entry{Collection: name}
			byName[name] = e
		}

		return e
	}

	for rows.Next() {
		var (
			key     string
			value   int64
			updated int64
		)

		if err := rows.Scan(&key, &value, &updated); err != nil {
			return nil, fmt.Errorf("cursor: scanning state row: %w", err)
		}

		ts := time.Unix(0, updated)

		if name, ok := strings.CutPrefix(key, lastUploadedPrefix+"."); ok {
			e := entry(name)
			e.LastUploadedID = value
			if ts.After(e.UpdatedAt) {
				e.UpdatedAt = ts
			}

			continue
		}

		if name, ok := strings.CutPrefix(key, retriesPrefix+"."); ok {
			e := entry(name)
			e.Retries = int(value)
			if ts.After(e.UpdatedAt) {
				e.UpdatedAt = ts
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursor: iterating state: %w", err)
	}

	entries := make([]Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Collection < entries[j].Collection
	})

	return entries, nil
}

// RecordResult stores the outcome of a finished session, replacing the
// previous one for the same collection.
func (s *SQLiteStore) RecordResult(ctx context.Context, r Result) error {
	var errText sql.NullString
	if r.Err != "" {
		errText = sql.NullString{String: r.Err, Valid: true}
	}

	finished := r.FinishedAt
	if finished.IsZero() {
		finished = s.nowFunc()
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertResult,
		r.Collection, r.Success, r.Uploaded, errText, finished.UnixNano()); err != nil {
		return fmt.Errorf("cursor: recording result of %s: %w", r.Collection, err)
	}

	return nil
}

// LastResult returns the most recent session outcome of a collection, or
// nil when none has been recorded.
func (s *SQLiteStore) LastResult(ctx context.Context, collection string) (*Result, error) {
	var (
		success  bool
		uploaded int
		errText  sql.NullString
		finished int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetResult, collection).Scan(&success, &uploaded, &errText, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil result = never synced
	}

	if err != nil {
		return nil, fmt.Errorf("cursor: reading result of %s: %w", collection, err)
	}

	return &Result{
		Collection: collection,
		Success:    success,
		Uploaded:   uploaded,
		Err:        errText.String,
		FinishedAt: time.Unix(0, finished),
	}, nil
}

func (s *SQLiteStore) getValue(ctx context.Context, key string) (int64, error) {
	var v int64

	err := s.db.QueryRowContext(ctx, sqlGetValue, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return v, err
}
