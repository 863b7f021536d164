package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrNoSuchCollection is returned when a collection has no backing table.
var ErrNoSuchCollection = errors.New("source: no such collection")

const (
	sqlListTables = `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	sqlTableExists = `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
)

// Store is a SQLite database holding one table per collection. It is owned
// by the host application; the sync engine only reads rows and, when
// configured, deletes rows it has already uploaded.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens the record database at path. Journal mode is left as the
// owning application configured it; only a busy timeout is applied so reads
// wait out the writer instead of failing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("source: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("source: opening database %s: %w", path, err)
	}

	logger.Debug("record store opened", slog.String("path", path))

	return &Store{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tables lists the user tables in the database, sorted by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlListTables)
	if err != nil {
		return nil, fmt.Errorf("source: listing tables: %w", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("source: scanning table name: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: iterating tables: %w", err)
	}

	return names, nil
}

// Collection returns a handle for the named table. The table must exist.
func (s *Store) Collection(ctx context.Context, name string) (*Table, error) {
	if name == "" || strings.ContainsAny(name, "\"\x00") {
		return nil, fmt.Errorf("source: invalid collection name %q", name)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, sqlTableExists, name).Scan(&n); err != nil {
		return nil, fmt.Errorf("source: checking table %q: %w", name, err)
	}

	if n == 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrNoSuchCollection, name, s.path)
	}

	return &Table{
		store:  s,
		name:   name,
		quoted: `"` + name + `"`,
	}, nil
}

// Table is one collection inside a Store. It implements the data source
// contract consumed by the sync engine.
type Table struct {
	store  *Store
	name   string
	quoted string
}

// Name returns the collection name.
func (t *Table) Name() string {
	return t.name
}

// Fetch returns up to limit records matching f in ascending id order.
func (t *Table) Fetch(ctx context.Context, f Filter, limit int) ([]Record, error) {
	where, args := f.where()
	query := "SELECT * FROM " + t.quoted + " WHERE " + where + " ORDER BY " + IDColumn

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := t.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("source: fetching %s where %s: %w", t.name, f, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source: reading columns of %s: %w", t.name, err)
	}

	var records []Record

	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("source: scanning %s: %w", t.name, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: iterating %s: %w", t.name, err)
	}

	return records, nil
}

// Count returns the number of records matching f.
func (t *Table) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()

	var n int
	if err := t.store.db.QueryRowContext(ctx,
		"SELECT count(*) FROM "+t.quoted+" WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("source: counting %s where %s: %w", t.name, f, err)
	}

	return n, nil
}

// Remove deletes up to limit records matching f, lowest ids first. SQLite
// builds without DELETE ... LIMIT support, so the bound is applied through
// an ordered subquery.
func (t *Table) Remove(ctx context.Context, f Filter, limit int) error {
	where, args := f.where()
	query := "DELETE FROM " + t.quoted + " WHERE " + IDColumn + " IN (SELECT " + IDColumn +
		" FROM " + t.quoted + " WHERE " + where + " ORDER BY " + IDColumn

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	query += ")"

	res, err := t.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("source: removing from %s where %s: %w", t.name, f, err)
	}

	n, _ := res.RowsAffected()
	t.store.logger.Debug("removed uploaded records",
		slog.String("collection", t.name),
		slog.String("filter", f.String()),
		slog.Int64("rows", n),
	)

	return nil
}

// scanRecord reads the current row into a Record. BLOB values that hold
// valid UTF-8 are returned as strings so they serialize as text.
func scanRecord(rows *sql.Rows, cols []string) (Record, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))

	for i := range values {
		ptrs[i] = &values[i]
	}

	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	rec := make(Record, len(cols))

	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			if utf8.Valid(b) {
				rec[col] = string(b)
			} else {
				rec[col] = append([]byte(nil), b...)
			}

			continue
		}

		rec[col] = values[i]
	}

	return rec, nil
}
