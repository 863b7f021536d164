package cursor

import (
	"context"
	"sort"
	gosync "sync"
	"time"
)

// MemoryStore keeps cursor state in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu      gosync.Mutex
	cursors map[string]int64
	retries map[string]int
	results map[string]Result
	updated map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors: make(map[string]int64),
		retries: make(map[string]int),
		results: make(map[string]Result),
		updated: make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (m *MemoryStore) LastUploadedID(_ context.Context, collection string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cursors[collection], nil
}

// SetLastUploadedID keeps the higher of the stored and given ids.
func (m *MemoryStore) SetLastUploadedID(_ context.Context, collection string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id > m.cursors[collection] {
		m.cursors[collection] = id
	}

	m.updated[collection] = m.nowFunc()

	return nil
}

func (m *MemoryStore) ClearLastUploadedID(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cursors, collection)

	return nil
}

func (m *MemoryStore) RetryCount(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.retries[collection], nil
}

func (m *MemoryStore) IncrementRetryCount(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries[collection]++
	m.updated[collection] = m.nowFunc()

	return m.retries[collection], nil
}

func (m *MemoryStore) ResetRetryCount(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.retries, collection)

	return nil
}

// List returns every collection with a cursor or retry counter.
func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for c := range m.cursors {
		seen[c] = true
	}

	for c := range m.retries {
		seen[c] = true
	}

	entries := make([]Entry, 0, len(seen))
	for c := range seen {
		entries = append(entries, Entry{
			Collection:     c,
			LastUploadedID: m.cursors[c],
			Retries:        m.retries[c],
			UpdatedAt:      m.updated[c],
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Collection < entries[j].Collection
	})

	return entries, nil
}

func (m *MemoryStore) RecordResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.FinishedAt.IsZero() {
		r.FinishedAt = m.nowFunc()
	}

	m.results[r.Collection] = r

	return nil
}

func (m *MemoryStore) LastResult(_ context.Context, collection string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[collection]
	if !ok {
		return nil, nil //nolint:nilnil // nil result = never synced
	}

	return &r, nil
}
