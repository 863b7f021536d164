package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/aware-sync/internal/source"
)

// tryStart begins a session unless one is running. Completed and Failed
// count as free: their pending return to Idle is skipped for the new
// session. A stop requested after Run (stops moved past gen) cancels the
// start with ErrStopped.
func (e *Engine) tryStart(gen uint64, onComplete CompletionFunc) error {
	e.mu.Lock()
	notify := e.reapStaleLocked()

	if e.stops != gen {
		e.mu.Unlock()
		notify()

		return ErrStopped
	}

	if e.state.busy() {
		e.mu.Unlock()
		notify()

		return errBusy
	}

	ctx, cancel := context.WithCancel(e.lifeCtx)
	s := &session{
		ctx:        ctx,
		cancel:     cancel,
		onComplete: onComplete,
		first:      true,
	}

	e.sess = s
	e.lastErr = nil
	e.m = metrics{lastID: e.m.lastID}
	e.setStateLocked(StateActive)
	e.mu.Unlock()

	notify()

	if err := e.cursors.ResetRetryCount(ctx, e.collection); err != nil {
		e.logger.Warn("resetting retry counter", slog.String("error", err.Error()))
	}

	e.logger.Info("sync session started")

	if !e.queue.push(func() { e.beginSession(s) }) {
		e.mu.Lock()
		n := e.stopLocked(ErrClosed)
		e.mu.Unlock()
		n()
	}

	return nil
}

// beginSession clears anything a previous session left in flight, then
// runs the first batch.
func (e *Engine) beginSession(s *session) {
	if !e.isCurrent(s) {
		return
	}

	e.transport.Invalidate(false)
	e.runBatch(s)
}

// isCurrent reports whether s still owns the engine and may do work.
func (e *Engine) isCurrent(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sess == s && !s.finished && e.state.busy()
}

// runBatch performs one fetch-upload-advance step on the worker.
func (e *Engine) runBatch(s *session) {
	e.mu.Lock()
	if e.sess != s || s.finished || e.state != StateActive {
		e.mu.Unlock()
		return
	}

	// Starting a batch is an Active->Active transition for staleness.
	e.since = e.nowFunc()
	e.mu.Unlock()

	ctx := s.ctx
	batchSize := e.cfg.BatchSize

	prev, err := e.cursors.LastUploadedID(ctx, e.collection)
	if err != nil {
		e.fail(s, fmt.Errorf("sync: reading cursor: %w", err))
		return
	}

	if s.first {
		s.first = false

		n, err := e.src.Count(ctx, source.After(prev))
		if err != nil {
			e.fail(s, fmt.Errorf("sync: counting candidates: %w", err))
			return
		}

		e.mu.Lock()
		e.m.original = n
		e.m.uploaded = 0
		e.m.lastID = prev
		e.mu.Unlock()

		e.logger.Info("sync candidates counted",
			slog.Int("candidates", n),
			slog.Int64("last_uploaded_id", prev),
		)
	}

	batch, err := e.src.Fetch(ctx, source.After(prev), batchSize)
	if err != nil {
		e.fail(s, fmt.Errorf("sync: fetching %s: %w", source.After(prev), err))
		return
	}

	isLast := len(batch) < batchSize

	e.mu.Lock()
	e.m.current = len(batch)
	e.m.isLast = isLast
	e.mu.Unlock()

	if len(batch) == 0 {
		e.logger.Info("no records to upload")
		e.complete(s)

		return
	}

	lastID, ok := batch[len(batch)-1].ID()
	if !ok {
		e.fail(s, fmt.Errorf("%w: last record of batch after id %d", ErrInvalidRecord, prev))
		return
	}

	req, err := e.builder.Build(ctx, e.collection, batch)
	if err != nil {
		e.fail(s, err)
		return
	}

	e.logger.Debug("uploading batch",
		slog.Int("records", len(batch)),
		slog.Int64("first_after", prev),
		slog.Int64("last_id", lastID),
		slog.Bool("last_batch", isLast),
	)

	if err := e.transport.Send(req); err != nil {
		e.fail(s, err)
		return
	}

	// The server has the batch; finish bookkeeping even if a stop is
	// requested from here on.
	durable := context.WithoutCancel(ctx)

	e.mu.Lock()
	e.m.uploaded += len(batch)
	e.mu.Unlock()

	if e.cfg.RemoveAfterSync {
		f := source.Filter{AfterID: prev, UpToID: lastID}
		if err := e.src.Remove(durable, f, batchSize); err != nil {
			e.fail(s, fmt.Errorf("sync: removing uploaded records %s: %w", f, err))
			return
		}
	}

	if err := e.cursors.SetLastUploadedID(durable, e.collection, lastID); err != nil {
		e.fail(s, fmt.Errorf("sync: advancing cursor to %d: %w", lastID, err))
		return
	}

	e.mu.Lock()
	e.m.lastID = lastID
	e.mu.Unlock()

	if isLast {
		e.complete(s)
		return
	}

	e.advance(s)
}

// advance reports intermediate progress and schedules the next batch.
func (e *Engine) advance(s *session) {
	e.mu.Lock()
	if e.sess != s || s.finished {
		e.mu.Unlock()
		return
	}

	denom := max(e.m.original, 1)
	p := min(float64(e.m.uploaded)/float64(denom), 1.0)
	p = max(p, e.m.progress)
	e.m.progress = p
	active := e.state == StateActive
	uploaded := e.m.uploaded
	e.mu.Unlock()

	e.logger.Info("batch uploaded",
		slog.Int("total_uploaded", uploaded),
		slog.Float64("progress", p),
	)

	e.reportProgress(p, nil)

	if !active {
		return
	}

	time.AfterFunc(e.batchDelay, func() {
		e.queue.push(func() { e.runBatch(s) })
	})
}

// complete ends s successfully.
func (e *Engine) complete(s *session) {
	e.mu.Lock()
	if e.sess != s || s.finished {
		e.mu.Unlock()
		return
	}

	e.m.progress = 1.0
	e.setStateLocked(StateCompleted)
	notify := e.finishLocked(s, true, nil)
	uploaded := e.m.uploaded
	e.mu.Unlock()

	e.transport.Invalidate(true)

	e.logger.Info("sync session completed", slog.Int("total_uploaded", uploaded))

	e.reportProgress(1.0, nil)
	notify()
	e.scheduleIdle(s, StateCompleted)
}

// fail ends s with err. Errors from a session that was already stopped or
// replaced are dropped; that session reported its own outcome.
func (e *Engine) fail(s *session, err error) {
	e.mu.Lock()
	if e.sess != s || s.finished {
		e.mu.Unlock()
		e.logger.Debug("dropping error from finished session", slog.String("error", err.Error()))

		return
	}

	e.m.progress = 0
	e.setStateLocked(StateFailed)
	notify := e.finishLocked(s, false, err)
	e.mu.Unlock()

	e.transport.Invalidate(false)

	e.logger.Error("sync session failed", slog.String("error", err.Error()))

	e.reportProgress(0, err)
	notify()
	e.scheduleIdle(s, StateFailed)
}

// scheduleIdle returns to Idle after the grace delay unless a new session
// or a stop got there first.
func (e *Engine) scheduleIdle(s *session, from State) {
	time.AfterFunc(e.graceDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.sess == s && e.state == from {
			e.toIdleLocked()
		}
	})
}

func (e *Engine) reportProgress(p float64, err error) {
	if fn := e.cfg.OnProgress; fn != nil {
		e.deliver(func() { fn(p, err) })
	}
}
