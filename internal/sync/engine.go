// Package sync uploads the records of a collection to its remote insert
// endpoint in bounded batches. An Engine owns one collection: it runs a
// small state machine on a serial worker goroutine, advances a persisted
// cursor only after the server confirms a batch, and supports graceful and
// immediate cancellation. A Manager drives several engines on a schedule.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/aware-sync/internal/cursor"
	"github.com/tonimelisma/aware-sync/internal/request"
	"github.com/tonimelisma/aware-sync/internal/source"
	"github.com/tonimelisma/aware-sync/internal/transport"
)

// Timing defaults.
const (
	graceDelay       = 100 * time.Millisecond // Completed/Failed -> Idle
	interBatchDelay  = 100 * time.Millisecond
	staleAfter       = 5 * time.Minute
	defaultRetryBase = 1 * time.Second
	defaultRetryCap  = 10 * time.Second
	maxRunRetries    = 10
)

// Source is the record store of one collection. Fetch must return records
// in ascending id order.
type Source interface {
	Fetch(ctx context.Context, f source.Filter, limit int) ([]source.Record, error)
	Count(ctx context.Context, f source.Filter) (int, error)
	Remove(ctx context.Context, f source.Filter, limit int) error
}

// CursorStore persists per-collection progress. Per-key operations must be
// atomic; SetLastUploadedID must never lower a stored cursor.
type CursorStore interface {
	LastUploadedID(ctx context.Context, collection string) (int64, error)
	SetLastUploadedID(ctx context.Context, collection string, id int64) error
	ClearLastUploadedID(ctx context.Context, collection string) error
	RetryCount(ctx context.Context, collection string) (int, error)
	IncrementRetryCount(ctx context.Context, collection string) (int, error)
	ResetRetryCount(ctx context.Context, collection string) error
}

// resultRecorder is implemented by stores that keep session outcomes.
type resultRecorder interface {
	RecordResult(ctx context.Context, r cursor.Result) error
}

// sender is satisfied by *transport.Session.
type sender interface {
	Send(req *http.Request) error
	Invalidate(wait bool)
}

// session is one logical Run. finished is guarded by Engine.mu; first is
// touched only by the worker.
type session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	onComplete CompletionFunc
	first      bool
	finished   bool
}

type metrics struct {
	original int
	current  int
	uploaded int
	lastID   int64
	isLast   bool
	progress float64
}

// Engine synchronizes one collection. All methods are safe for concurrent
// use.
type Engine struct {
	cfg        Config
	collection string
	src        Source
	cursors    CursorStore
	builder    *request.Builder
	transport  sender
	logger     *slog.Logger

	exec    Executor
	ownExec *serialExecutor // nil when the caller supplied an executor

	queue      *jobQueue
	workerDone chan struct{}
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	closeOnce  gosync.Once
	callbacks  atomic.Int32 // callbacks currently running

	mu      gosync.Mutex
	state   State
	since   time.Time // last state transition
	sess    *session
	lastErr error
	m       metrics
	stops   uint64 // bumped by StopGracefully and StopImmediately

	// Injectable for tests.
	nowFunc    func() time.Time
	graceDelay time.Duration
	batchDelay time.Duration
	staleAfter time.Duration
	retryBase  time.Duration
	retryCap   time.Duration
	maxRetries int
}

// NewEngine validates cfg and starts the engine's worker. It performs no
// I/O. Close releases the worker.
func NewEngine(cfg Config, src Source, cursors CursorStore, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if src == nil || cursors == nil {
		return nil, fmt.Errorf("%w: source and cursor store are required", ErrConfiguration)
	}

	if logger == nil {
		logger = slog.Default()
	}

	collection := request.NormalizeCollection(cfg.Collection)
	logger = slog.New(&levelHandler{min: cfg.DebugLevel.SlogLevel(), h: logger.Handler()}).
		With(slog.String("collection", collection))

	lifeCtx, lifeCancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		collection: collection,
		src:        src,
		cursors:    cursors,
		logger:     logger,
		queue:      newJobQueue(),
		workerDone: make(chan struct{}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		nowFunc:    time.Now,
		graceDelay: graceDelay,
		batchDelay: interBatchDelay,
		staleAfter: staleAfter,
		retryBase:  defaultRetryBase,
		retryCap:   defaultRetryCap,
		maxRetries: maxRunRetries,
	}

	e.since = e.nowFunc()

	e.builder = request.NewBuilder(request.Options{
		Host:        cfg.Host,
		DeviceID:    cfg.DeviceID,
		Compact:     cfg.Compact,
		UserAgent:   cfg.UserAgent,
		BodyHook:    cfg.BodyHook,
		RequestHook: cfg.RequestHook,
	}, logger)

	e.transport = transport.NewSession(transport.Options{
		Background:      cfg.Background,
		DryRun:          cfg.Test,
		RequestTimeout:  cfg.RequestTimeout,
		ResourceTimeout: cfg.ResourceTimeout,
		Limiter:         cfg.Limiter,
		UserAgent:       cfg.UserAgent,
		Transport:       cfg.Transport,
	}, logger)

	e.exec = cfg.Executor
	if e.exec == nil {
		e.ownExec = newSerialExecutor()
		e.exec = e.ownExec
	}

	go func() {
		defer close(e.workerDone)
		e.queue.run()
	}()

	logger.Debug("engine created",
		slog.Int("batch_size", cfg.BatchSize),
		slog.Bool("remove_after_sync", cfg.RemoveAfterSync),
		slog.Bool("compact", cfg.Compact),
		slog.Bool("test", cfg.Test),
	)

	return e, nil
}

// Collection returns the normalized collection name.
func (e *Engine) Collection() string {
	return e.collection
}

// Close stops any running session, drains queued callbacks and stops the
// worker. It is safe to call from a callback; it then returns without
// waiting for the drain. Run calls after Close report ErrClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.lifeCancel()

		e.mu.Lock()
		notify := e.stopLocked(ErrStopped)
		e.mu.Unlock()

		notify()
		e.transport.Invalidate(false)

		// From inside a callback the worker or executor goroutine may be
		// the caller; both still drain and exit on their own.
		inCallback := e.callbacks.Load() > 0

		e.queue.close()
		if !inCallback {
			<-e.workerDone
		}

		if e.ownExec != nil {
			e.ownExec.close(!inCallback)
		}

		e.logger.Debug("engine closed")
	})

	return nil
}

// Run starts a session and returns immediately. onComplete (may be nil)
// fires exactly once. If a session is already running, the start is
// retried with backoff; see startWithRetry.
func (e *Engine) Run(onComplete CompletionFunc) {
	if e.lifeCtx.Err() != nil {
		e.deliver(func() {
			if onComplete != nil {
				onComplete(false, ErrClosed)
			}
		})

		return
	}

	e.mu.Lock()
	gen := e.stops
	e.mu.Unlock()

	go e.startWithRetry(gen, onComplete)
}

// CurrentState returns the engine state. A session that has not changed
// state within the staleness window is reaped first.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	notify := e.reapStaleLocked()
	s := e.state
	e.mu.Unlock()

	notify()

	return s
}

// CurrentProgress returns the last reported progress in [0,1].
func (e *Engine) CurrentProgress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.m.progress
}

// IsActive reports whether a session is running or being cancelled.
func (e *Engine) IsActive() bool {
	return e.CurrentState().busy()
}

// CanStop reports whether StopGracefully has something to stop.
func (e *Engine) CanStop() bool {
	s := e.CurrentState()
	return s == StateActive || s == StateFailed
}

// LastError returns the error of the most recent failed session.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

// Statistics returns a snapshot of the current session metrics.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Statistics{
		Collection:         e.collection,
		OriginalCandidates: e.m.original,
		CurrentCandidates:  e.m.current,
		TotalUploaded:      e.m.uploaded,
		LastUploadedID:     e.m.lastID,
		IsLastBatch:        e.m.isLast,
		Progress:           e.m.progress,
		State:              e.state,
		LastError:          e.lastErr,
	}

	if e.m.original > 0 {
		st.UploadProgress = float64(e.m.uploaded) / float64(e.m.original)
		st.UploadPercentage = int(st.UploadProgress * 100)
	}

	return st
}

// StopImmediately cancels the in-flight request, tears down the transport
// without waiting and resets to Idle. A running session completes with
// ErrStopped. onStopped (may be nil) is delivered on the executor.
func (e *Engine) StopImmediately(onStopped func()) {
	e.mu.Lock()
	e.stops++
	notify := e.stopLocked(ErrStopped)
	e.mu.Unlock()

	e.transport.Invalidate(false)
	notify()

	e.logger.Info("sync stopped immediately")

	if onStopped != nil {
		e.deliver(onStopped)
	}
}

// StopGracefully lets the in-flight batch finish, then tears down the
// transport and resets to Idle, reporting true. If timeout elapses first it
// stops immediately and reports false. With nothing to stop it reports
// whether the engine was already Idle or Completed.
func (e *Engine) StopGracefully(timeout time.Duration, onStopped func(completed bool)) {
	report := func(ok bool) {
		if onStopped != nil {
			e.deliver(func() { onStopped(ok) })
		}
	}

	e.mu.Lock()
	e.stops++
	notify := e.reapStaleLocked()

	if e.state != StateActive && e.state != StateFailed {
		idle := e.state == StateIdle || e.state == StateCompleted
		e.mu.Unlock()

		notify()
		report(idle)

		return
	}

	e.setStateLocked(StateCancelling)
	target := e.sess
	e.mu.Unlock()

	notify()

	e.logger.Info("graceful stop requested", slog.Duration("timeout", timeout))

	var claimed atomic.Bool
	claim := func() bool { return claimed.CompareAndSwap(false, true) }

	timer := time.AfterFunc(timeout, func() {
		if !claim() {
			return
		}

		e.logger.Warn("graceful stop timed out, stopping immediately")

		e.mu.Lock()
		n := func() {}
		if e.sess == target {
			n = e.stopLocked(ErrStopped)
		}
		e.mu.Unlock()

		e.transport.Invalidate(false)
		n()
		report(false)
	})

	queued := e.queue.push(func() {
		if !claim() {
			return
		}

		timer.Stop()
		e.transport.Invalidate(true)

		e.mu.Lock()
		n := func() {}
		if e.sess == target {
			n = e.stopLocked(ErrStopped)
		}
		e.mu.Unlock()

		n()
		e.logger.Info("graceful stop complete")
		report(true)
	})

	if !queued && claim() {
		timer.Stop()
		report(false)
	}
}

// deliver runs fn on the callback executor. Never call with e.mu held.
func (e *Engine) deliver(fn func()) {
	e.exec.Execute(func() {
		e.callbacks.Add(1)
		defer e.callbacks.Add(-1)

		fn()
	})
}

// setStateLocked records a transition. Caller holds e.mu.
func (e *Engine) setStateLocked(s State) {
	if e.state != s {
		e.logger.Debug("state transition",
			slog.String("from", e.state.String()),
			slog.String("to", s.String()),
		)
	}

	e.state = s
	e.since = e.nowFunc()
}

// toIdleLocked resets the engine for the next Run. Caller holds e.mu.
func (e *Engine) toIdleLocked() {
	e.setStateLocked(StateIdle)
	e.sess = nil

	lastID := e.m.lastID
	e.m = metrics{lastID: lastID}
}

// stopLocked finishes the current session with reason and resets to Idle.
// The returned func delivers the completion and must be called after
// e.mu is released.
func (e *Engine) stopLocked(reason error) func() {
	s := e.sess
	if s == nil {
		if e.state != StateIdle {
			e.toIdleLocked()
		}

		return func() {}
	}

	s.cancel()
	notify := e.finishLocked(s, false, reason)
	e.toIdleLocked()

	return notify
}

// reapStaleLocked force-resets a session stuck in Active or Cancelling.
// Caller holds e.mu; call the returned func after unlocking.
func (e *Engine) reapStaleLocked() func() {
	if !e.state.busy() || e.nowFunc().Sub(e.since) <= e.staleAfter {
		return func() {}
	}

	e.logger.Warn("sync session stale, forcing reset",
		slog.String("state", e.state.String()),
		slog.Duration("since_transition", e.nowFunc().Sub(e.since)),
	)

	notify := e.stopLocked(ErrStaleSession)
	t := e.transport

	return func() {
		t.Invalidate(false)
		notify()
	}
}

// finishLocked marks s finished and returns a func delivering its
// completion. A session finishes at most once; later calls return a no-op.
func (e *Engine) finishLocked(s *session, success bool, err error) func() {
	if s.finished {
		return func() {}
	}

	s.finished = true

	if !success {
		e.lastErr = err
	}

	onComplete := e.cfg.OnComplete
	onRun := s.onComplete
	collection := e.collection
	uploaded := e.m.uploaded
	cursors := e.cursors

	return func() {
		ctx := context.WithoutCancel(s.ctx)

		if err := cursors.ResetRetryCount(ctx, collection); err != nil {
			e.logger.Warn("resetting retry counter", slog.String("error", err.Error()))
		}

		if rr, ok := cursors.(resultRecorder); ok {
			res := cursor.Result{Collection: collection, Success: success, Uploaded: uploaded}
			if err != nil {
				res.Err = err.Error()
			}

			if recErr := rr.RecordResult(ctx, res); recErr != nil {
				e.logger.Warn("recording sync result", slog.String("error", recErr.Error()))
			}
		}

		e.deliver(func() {
			if onComplete != nil {
				onComplete(success, err)
			}

			if onRun != nil {
				onRun(success, err)
			}
		})
	}
}
