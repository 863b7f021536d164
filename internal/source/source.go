// Package source reads upload candidates from the local record store.
// Records are plain column maps keyed by name and ordered by their integer
// id column. The sync engine consumes them through a small interface
// (fetch, count, remove) so other stores can be plugged in.
package source

import (
	"encoding/json"
	"fmt"
	"math"
)

// IDColumn is the monotonically increasing primary key every collection
// must carry.
const IDColumn = "id"

// Record is a single row of a collection, keyed by column name.
type Record map[string]any

// ID returns the record's id column as an int64. The second return is false
// when the column is missing or not an integral number.
func (r Record) ID() (int64, bool) {
	v, ok := r[IDColumn]
	if !ok {
		return 0, false
	}

	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case int32:
		return int64(id), true
	case uint32:
		return int64(id), true
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return 0, false
		}

		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Filter selects records by id range. AfterID is exclusive. UpToID is
// inclusive and ignored when zero.
type Filter struct {
	AfterID int64
	UpToID  int64
}

// After returns a filter matching every record with id > id.
func After(id int64) Filter {
	return Filter{AfterID: id}
}

// Matches reports whether id falls inside the filter's range.
func (f Filter) Matches(id int64) bool {
	if id <= f.AfterID {
		return false
	}

	return f.UpToID == 0 || id <= f.UpToID
}

// String renders the filter in the "id > N" form used in logs and by the
// SQL adapter.
func (f Filter) String() string {
	if f.UpToID == 0 {
		return fmt.Sprintf("%s > %d", IDColumn, f.AfterID)
	}

	return fmt.Sprintf("%s > %d AND %s <= %d", IDColumn, f.AfterID, IDColumn, f.UpToID)
}

// where returns a parameterized WHERE clause body and its arguments.
func (f Filter) where() (string, []any) {
	if f.UpToID == 0 {
		return IDColumn + " > ?", []any{f.AfterID}
	}

	return IDColumn + " > ? AND " + IDColumn + " <= ?", []any{f.AfterID, f.UpToID}
}
