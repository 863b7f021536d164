package cursor

import (
	"context"
	"sort"
	"strings"
)

// Reader is the read side of a cursor store.
type Reader interface {
	LastUploadedID(ctx context.Context, collection string) (int64, error)
	RetryCount(ctx context.Context, collection string) (int, error)
	List(ctx context.Context) ([]Entry, error)
	LastResult(ctx context.Context, collection string) (*Result, error)
}

// Overlay reads through to a base store until a key is written, after which
// the in-memory value wins. Nothing is ever written to the base. Dry runs
// use it so a session sees its own progress while durable state stays put.
type Overlay struct {
	base  Reader
	mem   *MemoryStore
	dirty map[string]bool // keys written or cleared in mem
}

// NewOverlay wraps base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{
		base:  base,
		mem:   NewMemoryStore(),
		dirty: make(map[string]bool),
	}
}

func (o *Overlay) touched(key string) bool {
	o.mem.mu.Lock()
	defer o.mem.mu.Unlock()

	return o.dirty[key]
}

func (o *Overlay) touch(key string) {
	o.mem.mu.Lock()
	o.dirty[key] = true
	o.mem.mu.Unlock()
}

func (o *Overlay) LastUploadedID(ctx context.Context, collection string) (int64, error) {
	if o.touched(LastUploadedKey(collection)) {
		return o.mem.LastUploadedID(ctx, collection)
	}

	return o.base.LastUploadedID(ctx, collection)
}

// SetLastUploadedID seeds the in-memory cursor from the base on first write
// so the monotonic rule still holds against the durable value.
func (o *Overlay) SetLastUploadedID(ctx context.Context, collection string, id int64) error {
	if err := o.seedCursor(ctx, collection); err != nil {
		return err
	}

	return o.mem.SetLastUploadedID(ctx, collection, id)
}

func (o *Overlay) ClearLastUploadedID(ctx context.Context, collection string) error {
	o.touch(LastUploadedKey(collection))

	return o.mem.ClearLastUploadedID(ctx, collection)
}

func (o *Overlay) RetryCount(ctx context.Context, collection string) (int, error) {
	if o.touched(RetriesKey(collection)) {
		return o.mem.RetryCount(ctx, collection)
	}

	return o.base.RetryCount(ctx, collection)
}

func (o *Overlay) IncrementRetryCount(ctx context.Context, collection string) (int, error) {
	key := RetriesKey(collection)

	if !o.touched(key) {
		n, err := o.base.RetryCount(ctx, collection)
		if err != nil {
			return 0, err
		}

		o.mem.mu.Lock()
		o.mem.retries[collection] = n
		o.dirty[key] = true
		o.mem.mu.Unlock()
	}

	return o.mem.IncrementRetryCount(ctx, collection)
}

func (o *Overlay) ResetRetryCount(ctx context.Context, collection string) error {
	o.touch(RetriesKey(collection))

	return o.mem.ResetRetryCount(ctx, collection)
}

// List merges base entries with the overlay's own values.
func (o *Overlay) List(ctx context.Context) ([]Entry, error) {
	baseEntries, err := o.base.List(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Entry, len(baseEntries))
	for _, e := range baseEntries {
		byName[e.Collection] = e
	}

	o.mem.mu.Lock()
	for key := range o.dirty {
		if name, ok := strings.CutPrefix(key, lastUploadedPrefix+"."); ok {
			e := byName[name]
			e.Collection = name
			e.LastUploadedID = o.mem.cursors[name]
			byName[name] = e

			continue
		}

		if name, ok := strings.CutPrefix(key, retriesPrefix+"."); ok {
			e := byName[name]
			e.Collection = name
			e.Retries = o.mem.retries[name]
			byName[name] = e
		}
	}
	o.mem.mu.Unlock()

	entries := make([]Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Collection < entries[j].Collection
	})

	return entries, nil
}

func (o *Overlay) RecordResult(ctx context.Context, r Result) error {
	return o.mem.RecordResult(ctx, r)
}

func (o *Overlay) LastResult(ctx context.Context, collection string) (*Result, error) {
	r, err := o.mem.LastResult(ctx, collection)
	if err != nil || r != nil {
		return r, err
	}

	return o.base.LastResult(ctx, collection)
}

func (o *Overlay) seedCursor(ctx context.Context, collection string) error {
	key := LastUploadedKey(collection)
	if o.touched(key) {
		return nil
	}

	id, err := o.base.LastUploadedID(ctx, collection)
	if err != nil {
		return err
	}

	o.mem.mu.Lock()
	if id > 0 {
		o.mem.cursors[collection] = id
	}
	o.dirty[key] = true
	o.mem.mu.Unlock()

	return nil
}
