package sync

import (
	"context"
	"fmt"
	"time"
)

// Backoff for consecutive failures of one collection in watch mode. No
// backoff is applied below the threshold.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their backoff durations: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// CollectionReport is the outcome of one collection in a Manager pass.
type CollectionReport struct {
	Collection string
	Success    bool
	Skipped    bool   // gated by a condition or in failure backoff
	SkipReason string // set when Skipped
	Uploaded   int
	Duration   time.Duration
	Err        error
}

// collectionRunner isolates one collection's session: a panic in it is
// turned into a failed report instead of taking down the other
// collections.
type collectionRunner struct {
	collection string
}

// run executes fn with panic recovery. fn is injected so tests can exercise
// recovery without a real Engine.
func (cr *collectionRunner) run(ctx context.Context, fn func(context.Context) (*CollectionReport, error)) (result *CollectionReport) {
	start := time.Now()
	result = &CollectionReport{Collection: cr.collection}

	defer func() {
		if r := recover(); r != nil {
			result = &CollectionReport{
				Collection: cr.collection,
				Err:        fmt.Errorf("panic in collection %s: %v", cr.collection, r),
			}
		}

		result.Duration = time.Since(start)
	}()

	report, err := fn(ctx)
	if report != nil {
		result = report
		result.Collection = cr.collection
	}

	result.Err = err
	result.Success = err == nil && !result.Skipped

	return result
}

// backoffDuration returns the wait after the given number of consecutive
// failures; 0 below backoffThreshold.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}
