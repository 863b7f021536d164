// Package cursor persists per-collection sync progress: the id of the last
// record confirmed uploaded, and the counter of concurrent-run retries.
// Both are process-wide keyed state. The durable implementation is a small
// SQLite database; an in-memory store and a read-through overlay serve
// tests and dry runs.
package cursor

import "time"

// Key prefixes for persisted values. A collection's key is the prefix, a
// dot, and the collection name.
const (
	lastUploadedPrefix = "aware.sync.task.last_uploaded_id"
	retriesPrefix      = "aware.sync.retries"
)

// LastUploadedKey returns the storage key of a collection's cursor.
func LastUploadedKey(collection string) string {
	return lastUploadedPrefix + "." + collection
}

// RetriesKey returns the storage key of a collection's retry counter.
func RetriesKey(collection string) string {
	return retriesPrefix + "." + collection
}

// Entry is a snapshot of one collection's persisted state.
type Entry struct {
	Collection     string
	LastUploadedID int64
	Retries        int
	UpdatedAt      time.Time
}

// Result records the outcome of the most recent finished session of a
// collection.
type Result struct {
	Collection string
	Success    bool
	Uploaded   int
	Err        string
	FinishedAt time.Time
}
