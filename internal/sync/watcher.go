package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher defaults.
const (
	DefaultWatchDebounce = 2 * time.Second
	watchErrInitBackoff  = 1 * time.Second
	watchErrMaxBackoff   = 30 * time.Second
	watchErrBackoffMult  = 2
)

// FsWatcher is the subset of *fsnotify.Watcher the source watcher needs.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// SourceWatcher turns writes to a SQLite source database into debounced
// sync triggers. It watches the database directory because SQLite replaces
// and truncates its -wal and -journal siblings.
type SourceWatcher struct {
	dbPath   string
	debounce time.Duration
	logger   *slog.Logger

	watcherFactory func() (FsWatcher, error)
	sleepFunc      func(ctx context.Context, d time.Duration) error
}

// NewSourceWatcher watches dbPath. A non-positive debounce uses
// DefaultWatchDebounce.
func NewSourceWatcher(dbPath string, debounce time.Duration, logger *slog.Logger) *SourceWatcher {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	return &SourceWatcher{
		dbPath:         filepath.Clean(dbPath),
		debounce:       debounce,
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		sleepFunc:      timeSleep,
	}
}

// Watch starts watching and returns the trigger channel. Bursts of writes
// closer together than the debounce window produce a single trigger. The
// channel is closed when ctx is cancelled or the watcher shuts down.
func (sw *SourceWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := sw.watcherFactory()
	if err != nil {
		return nil, fmt.Errorf("sync: creating source watcher: %w", err)
	}

	dir := filepath.Dir(sw.dbPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("sync: watching %s: %w", dir, err)
	}

	sw.logger.Info("watching source database", slog.String("path", sw.dbPath))

	notify := make(chan struct{}, 1)
	out := make(chan struct{}, 1)

	go func() {
		defer w.Close()
		defer close(notify)

		sw.watchLoop(ctx, w, notify)
	}()

	go sw.debounceLoop(ctx, notify, out)

	return out, nil
}

// relevant reports whether name is the database file or one of its
// rollback/WAL siblings.
func (sw *SourceWatcher) relevant(name string) bool {
	switch filepath.Clean(name) {
	case sw.dbPath, sw.dbPath + "-wal", sw.dbPath + "-journal":
		return true
	}

	return false
}

func (sw *SourceWatcher) watchLoop(ctx context.Context, w FsWatcher, notify chan<- struct{}) {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events():
			if !ok {
				return
			}

			errBackoff = watchErrInitBackoff

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if !sw.relevant(ev.Name) {
				continue
			}

			sw.logger.Debug("source changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))

			select {
			case notify <- struct{}{}:
			default:
			}

		case watchErr, ok := <-w.Errors():
			if !ok {
				return
			}

			sw.logger.Warn("source watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := sw.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// debounceLoop forwards one trigger per quiet period of sw.debounce.
func (sw *SourceWatcher) debounceLoop(ctx context.Context, notify <-chan struct{}, out chan<- struct{}) {
	defer close(out)

	timer := time.NewTimer(sw.debounce)
	timer.Stop() // idle until the first change
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-notify:
			if !ok {
				return
			}

			timer.Reset(sw.debounce)

		case <-timer.C:
			select {
			case out <- struct{}{}:
			default:
				// A trigger is already pending.
			}
		}
	}
}

// timeSleep waits for d or until ctx is cancelled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
