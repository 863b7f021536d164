// Package request turns a batch of records into the HTTP request the
// collection endpoint expects: a form body carrying the device id and the
// batch serialized as JSON.
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tonimelisma/aware-sync/internal/source"
)

// ErrSerialization is returned when a batch holds a value that cannot be
// encoded as JSON.
var ErrSerialization = errors.New("request: serialization failed")

// compactExcluded are per-device constants that the compact layout omits;
// the server derives them from the device registration.
var compactExcluded = map[string]bool{
	"os":          true,
	"jsonVersion": true,
	"deviceId":    true,
	"timezone":    true,
}

// BuildBody serializes batch as JSON. Row mode yields an array of objects.
// Compact mode yields one object mapping each field to the column of its
// values in record order; a record lacking a field contributes null.
func BuildBody(batch []source.Record, compact bool) ([]byte, error) {
	if err := checkEncodable(batch); err != nil {
		return nil, err
	}

	var v any = rowsOf(batch)
	if compact {
		v = pivot(batch)
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// rowsOf returns batch as a non-nil slice so an empty batch encodes as [].
func rowsOf(batch []source.Record) []source.Record {
	if batch == nil {
		return []source.Record{}
	}

	return batch
}

func pivot(batch []source.Record) map[string][]any {
	fields := make(map[string]bool)

	for _, rec := range batch {
		for k := range rec {
			if !compactExcluded[k] {
				fields[k] = true
			}
		}
	}

	cols := make(map[string][]any, len(fields))

	for k := range fields {
		col := make([]any, len(batch))
		for i, rec := range batch {
			col[i] = rec[k] // nil when absent
		}

		cols[k] = col
	}

	return cols
}

// checkEncodable finds the first value json cannot encode and reports its
// record index and field name.
func checkEncodable(batch []source.Record) error {
	for i, rec := range batch {
		if _, err := json.Marshal(rec); err == nil {
			continue
		}

		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			if _, err := json.Marshal(rec[k]); err != nil {
				return fmt.Errorf("%w: record %d field %q: %w", ErrSerialization, i, k, err)
			}
		}

		return fmt.Errorf("%w: record %d", ErrSerialization, i)
	}

	return nil
}
