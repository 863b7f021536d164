package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager defaults.
const (
	DefaultInterval        = 1 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	defaultMaxParallel     = 4
)

// Broadcaster receives engine events for outside observers. Calls must not
// block.
type Broadcaster interface {
	Progress(collection string, progress float64, err error)
	State(collection string, state State)
	Complete(collection string, success bool, err error)
}

// engineRunner is the part of *Engine the Manager drives. Tests inject
// fakes through Manager.engineFactory.
type engineRunner interface {
	Collection() string
	Run(onComplete CompletionFunc)
	StopGracefully(timeout time.Duration, onStopped func(completed bool))
	Statistics() Statistics
	Close() error
}

// engineFactoryFunc creates an engineRunner for one collection.
type engineFactoryFunc func(cfg Config, src Source) (engineRunner, error)

// CollectionSpec pairs an engine Config with its record source.
type CollectionSpec struct {
	Config Config
	Source Source
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Interval between passes in Watch.
	Interval time.Duration

	// Conditions gate non-forced passes; all must be satisfied.
	Conditions []Condition

	// MaxParallel bounds concurrently syncing collections.
	MaxParallel int

	// ShutdownTimeout bounds the graceful stop on cancellation.
	ShutdownTimeout time.Duration

	Broadcaster Broadcaster
}

// Manager runs the engines of several collections, once or periodically.
type Manager struct {
	cursors       CursorStore
	engineFactory engineFactoryFunc
	broadcaster   Broadcaster
	logger        *slog.Logger

	mu      gosync.Mutex
	opts    ManagerOptions
	engines []engineRunner
	retune  chan struct{} // signals Watch that the interval changed
}

// NewManager creates one engine per CollectionSpec. Engine callbacks are chained with
// the broadcaster when one is configured.
func NewManager(specs []CollectionSpec, cursors CursorStore, opts ManagerOptions, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cursors:     cursors,
		broadcaster: opts.Broadcaster,
		logger:      logger,
		opts:        withManagerDefaults(opts),
		retune:      make(chan struct{}, 1),
	}

	m.engineFactory = func(cfg Config, src Source) (engineRunner, error) {
		return NewEngine(cfg, src, m.cursors, m.logger)
	}

	if err := m.build(specs); err != nil {
		return nil, err
	}

	return m, nil
}

func withManagerDefaults(opts ManagerOptions) ManagerOptions {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return opts
}

// build creates engines for specs. On error, engines created so far are
// closed.
func (m *Manager) build(specs []CollectionSpec) error {
	engines := make([]engineRunner, 0, len(specs))

	for _, spec := range specs {
		cfg := m.chainCallbacks(spec.Config)

		eng, err := m.engineFactory(cfg, spec.Source)
		if err != nil {
			for _, e := range engines {
				e.Close()
			}

			return fmt.Errorf("sync: creating engine for %s: %w", spec.Config.Collection, err)
		}

		engines = append(engines, eng)
	}

	m.mu.Lock()
	m.engines = engines
	m.mu.Unlock()

	return nil
}

func (m *Manager) chainCallbacks(cfg Config) Config {
	b := m.broadcaster
	if b == nil {
		return cfg
	}

	collection := cfg.Collection
	onProgress := cfg.OnProgress
	onComplete := cfg.OnComplete

	cfg.OnProgress = func(p float64, err error) {
		b.Progress(collection, p, err)

		if onProgress != nil {
			onProgress(p, err)
		}
	}

	cfg.OnComplete = func(ok bool, err error) {
		b.Complete(collection, ok, err)

		if onComplete != nil {
			onComplete(ok, err)
		}
	}

	return cfg
}

// Engines returns a snapshot of each engine's statistics.
func (m *Manager) Engines() []Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make([]Statistics, len(m.engines))
	for i, e := range m.engines {
		stats[i] = e.Statistics()
	}

	return stats
}

// SetOptions swaps the interval, conditions, parallelism and shutdown
// timeout; a running Watch resets its ticker. The broadcaster set at
// construction is kept.
func (m *Manager) SetOptions(opts ManagerOptions) {
	m.mu.Lock()
	m.opts = withManagerDefaults(opts)
	m.mu.Unlock()

	select {
	case m.retune <- struct{}{}:
	default:
	}
}

func (m *Manager) options() ManagerOptions {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opts
}

// Close stops and releases every engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	engines := m.engines
	m.engines = nil
	m.mu.Unlock()

	var errs []error

	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", e.Collection(), err))
		}
	}

	return errors.Join(errs...)
}

// SyncAll runs one session per collection concurrently and waits for all
// of them. Unless force is set, an unsatisfied condition skips the pass.
// SyncAll never returns an error; each report carries its own.
func (m *Manager) SyncAll(ctx context.Context, force bool) []*CollectionReport {
	return m.syncSelected(ctx, force, func(string) bool { return true })
}

func (m *Manager) syncSelected(ctx context.Context, force bool, include func(string) bool) []*CollectionReport {
	opts := m.options()

	m.mu.Lock()
	engines := append([]engineRunner(nil), m.engines...)
	m.mu.Unlock()

	if len(engines) == 0 {
		return nil
	}

	if !force {
		if reason, ok := m.gate(ctx, opts.Conditions); !ok {
			m.logger.Info("sync skipped", slog.String("reason", reason))

			reports := make([]*CollectionReport, len(engines))
			for i, e := range engines {
				reports[i] = &CollectionReport{Collection: e.Collection(), Skipped: true, SkipReason: reason}
			}

			return reports
		}
	}

	m.logger.Info("sync pass starting",
		slog.Int("collections", len(engines)),
		slog.Bool("force", force),
	)

	reports := make([]*CollectionReport, len(engines))

	g := new(errgroup.Group)
	g.SetLimit(opts.MaxParallel)

	for i, e := range engines {
		name := e.Collection()

		if !include(name) {
			reports[i] = &CollectionReport{Collection: name, Skipped: true, SkipReason: "backing off after failures"}
			continue
		}

		runner := &collectionRunner{collection: name}

		g.Go(func() error {
			reports[i] = runner.run(ctx, func(c context.Context) (*CollectionReport, error) {
				return m.runEngine(c, e, opts.ShutdownTimeout)
			})

			return nil
		})
	}

	_ = g.Wait() // goroutines never return errors

	m.logger.Info("sync pass complete", slog.Int("reports", len(reports)))

	return reports
}

// runEngine runs one session and waits for its completion. Cancelling ctx
// stops the session gracefully; the session still completes (with
// ErrStopped) so the wait always ends.
func (m *Manager) runEngine(ctx context.Context, e engineRunner, shutdown time.Duration) (*CollectionReport, error) {
	type outcome struct {
		ok    bool
		err   error
		stats Statistics
	}

	done := make(chan outcome, 1)

	m.broadcastState(e.Collection(), StateActive)

	// Statistics are read in the callback, before the grace reset to Idle
	// clears them.
	e.Run(func(ok bool, err error) { done <- outcome{ok, err, e.Statistics()} })

	var out outcome

	select {
	case out = <-done:
	case <-ctx.Done():
		m.logger.Info("stopping collection", slog.String("collection", e.Collection()))
		e.StopGracefully(shutdown, nil)
		out = <-done
	}

	final := StateCompleted
	if !out.ok {
		final = StateFailed
	}

	m.broadcastState(e.Collection(), final)

	report := &CollectionReport{Uploaded: out.stats.TotalUploaded}

	if !out.ok && out.err == nil {
		out.err = fmt.Errorf("sync: %s failed without error", e.Collection())
	}

	return report, out.err
}

func (m *Manager) broadcastState(collection string, s State) {
	if b := m.broadcaster; b != nil {
		b.State(collection, s)
	}
}

// gate evaluates conditions. A condition that cannot be evaluated counts as
// unsatisfied.
func (m *Manager) gate(ctx context.Context, conds []Condition) (string, bool) {
	for _, c := range conds {
		ok, err := c.Satisfied(ctx)
		if err != nil {
			m.logger.Warn("condition check failed",
				slog.String("condition", c.Name()),
				slog.String("error", err.Error()),
			)

			return c.Name() + ": " + err.Error(), false
		}

		if !ok {
			return c.Name() + " not satisfied", false
		}
	}

	return "", true
}

// Watch runs a pass immediately, then on every interval tick and every
// trigger, until ctx is cancelled. A collection that keeps failing is
// skipped for backoffDuration(failures). Returns nil on clean shutdown.
func (m *Manager) Watch(ctx context.Context, triggers <-chan struct{}) error {
	if triggers == nil {
		triggers = make(chan struct{})
	}

	failures := make(map[string]int)
	notBefore := make(map[string]time.Time)

	pass := func(force bool) {
		now := time.Now()

		reports := m.syncSelected(ctx, force, func(name string) bool {
			return !now.Before(notBefore[name])
		})

		for _, r := range reports {
			switch {
			case r.Skipped:
			case r.Success:
				failures[r.Collection] = 0
				delete(notBefore, r.Collection)
			case ctx.Err() != nil:
			default:
				failures[r.Collection]++
				if d := backoffDuration(failures[r.Collection]); d > 0 {
					notBefore[r.Collection] = time.Now().Add(d)

					m.logger.Warn("collection backing off",
						slog.String("collection", r.Collection),
						slog.Int("consecutive_failures", failures[r.Collection]),
						slog.Duration("backoff", d),
					)
				}
			}
		}
	}

	interval := m.options().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("watch started", slog.Duration("interval", interval))

	pass(false)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("watch stopped")
			return nil

		case <-m.retune:
			if d := m.options().Interval; d != interval {
				interval = d
				ticker.Reset(interval)
				m.logger.Info("watch interval changed", slog.Duration("interval", interval))
			}

		case <-ticker.C:
			pass(false)

		case _, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}

			pass(false)
		}
	}
}
