package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/aware-sync/internal/config"
	"github.com/tonimelisma/aware-sync/internal/progressfeed"
	"github.com/tonimelisma/aware-sync/internal/sync"
)

// syncFailedError reports collections that failed in a one-shot run. It
// exits with status 2 so scripts can tell partial failure from bad setup.
type syncFailedError struct {
	failed, total int
}

func (e *syncFailedError) Error() string {
	return fmt.Sprintf("%d of %d collections failed", e.failed, e.total)
}

func (e *syncFailedError) ExitCode() int { return 2 }

func newSyncCmd() *cobra.Command {
	var watch, force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload pending records to the study server",
		Long: `Upload every record above each collection's cursor, in batches.

Without --watch, sync runs one pass and exits non-zero if any collection
failed. With --watch it keeps running: a pass starts every sync.interval,
and, with sync.watch_source, whenever the AWARE database changes. SIGHUP
reloads the configuration.

--dry-run reports what would be uploaded without network I/O and without
touching the saved cursors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := shutdownContext(cmd.Context(), cc.Logger)

			if watch {
				return runWatch(ctx, cc, cmd.OutOrStdout())
			}

			return runSyncOnce(ctx, cc, force, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing on an interval and on database changes")
	cmd.Flags().BoolVar(&force, "force", false, "ignore wifi, charging and free-space conditions")
	cmd.Flags().Bool("dry-run", false, "count and serialize records without uploading")
	cmd.Flags().StringSlice("collection", nil, "collection to sync (repeatable; default: all)")
	cmd.Flags().String("host", "", "study server host, overriding server.host")
	cmd.MarkFlagsMutuallyExclusive("watch", "force")

	return cmd
}

func runSyncOnce(ctx context.Context, cc *CLIContext, force bool, out io.Writer) error {
	sess, err := NewSyncSession(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	mgr, err := sync.NewManager(sess.Specs, sess.Cursors, managerOptions(cc.Cfg, nil, cc.Logger), cc.Logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if cc.Cfg.Sync.DryRun {
		cc.Statusf("Dry run: nothing will be uploaded or removed.\n")
	}

	reports := mgr.SyncAll(ctx, force)

	if cc.Flags.JSON {
		if err := printReportsJSON(out, reports); err != nil {
			return err
		}
	} else if !cc.Flags.Quiet {
		printReports(out, reports, cc.Cfg.Sync.DryRun)
	}

	failed := 0

	for _, r := range reports {
		if !r.Success && !r.Skipped {
			failed++
		}
	}

	if failed > 0 {
		return &syncFailedError{failed: failed, total: len(reports)}
	}

	return nil
}

// runWatch syncs until the first SIGINT/SIGTERM. It holds the PID file so
// "reload" can find it and a second watcher on the same state refuses to
// start.
func runWatch(ctx context.Context, cc *CLIContext, out io.Writer) error {
	cfg := cc.Cfg
	logger := cc.Logger

	cleanup, err := acquirePIDFile(config.PIDFilePath(cfg.State.Path))
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := NewSyncSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	var b sync.Broadcaster

	if cfg.Sync.FeedAddr != "" {
		feed := progressfeed.New(logger)
		if err := feed.Start(cfg.Sync.FeedAddr); err != nil {
			return err
		}
		defer feed.Close()

		b = feed
		cc.Statusf("Progress feed on ws://%s/ws\n", feed.Addr())
	}

	mgr, err := sync.NewManager(sess.Specs, sess.Cursors, managerOptions(cfg, b, logger), logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	var triggers <-chan struct{}

	if cfg.Sync.WatchSource {
		sw := sync.NewSourceWatcher(cfg.Source.Path, cfg.Sync.WatchDebounceDuration(), logger)
		if triggers, err = sw.Watch(ctx); err != nil {
			return err
		}
	}

	holder := config.NewHolder(cfg, cc.Env, cc.CLI)

	// Registered before announcing the watcher so an early reload is not
	// fatal.
	go reloadLoop(ctx, reloadSignals(ctx), holder, mgr, b, logger)

	cc.Statusf("Watching %d collections every %s (Ctrl-C to stop)\n",
		len(sess.Specs), cfg.Sync.IntervalDuration())

	if err := mgr.Watch(ctx, triggers); err != nil {
		return err
	}

	if !cc.Flags.Quiet && !cc.Flags.JSON {
		printStatistics(out, mgr.Engines())
	}

	return nil
}

// optionsSetter is the part of the Manager a reload touches.
type optionsSetter interface {
	SetOptions(sync.ManagerOptions)
}

// reloadLoop re-resolves the config on SIGHUP and applies what can change
// without rebuilding engines: interval, conditions, parallelism and the
// shutdown timeout. Engine settings such as host or batch size need a
// restart.
func reloadLoop(ctx context.Context, hup <-chan struct{}, holder *config.Holder, m optionsSetter, b sync.Broadcaster, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			applyReload(holder, m, b, logger)
		}
	}
}

func applyReload(holder *config.Holder, m optionsSetter, b sync.Broadcaster, logger *slog.Logger) {
	old := holder.Config()

	cfg, err := holder.Reload()
	if err != nil {
		logger.Error("config reload failed, keeping current settings",
			slog.String("path", holder.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	m.SetOptions(managerOptions(cfg, b, logger))

	if engineSettingsChanged(old, cfg) {
		logger.Warn("server, source or batch settings changed; restart sync --watch to apply them")
	}

	logger.Info("config reloaded",
		slog.String("path", holder.Path()),
		slog.Duration("interval", cfg.Sync.IntervalDuration()),
	)
}

func engineSettingsChanged(a, b *config.Config) bool {
	return a.Server != b.Server ||
		a.Source.Path != b.Source.Path ||
		fmt.Sprint(a.Source.Collections) != fmt.Sprint(b.Source.Collections) ||
		a.Sync.BatchSize != b.Sync.BatchSize ||
		a.Sync.RemoveAfterSync != b.Sync.RemoveAfterSync ||
		a.Sync.Compact != b.Sync.Compact ||
		a.Sync.DebugLevel != b.Sync.DebugLevel ||
		a.Sync.DryRun != b.Sync.DryRun
}

type reportJSON struct {
	Collection string  `json:"collection"`
	Success    bool    `json:"success"`
	Skipped    bool    `json:"skipped,omitempty"`
	SkipReason string  `json:"skip_reason,omitempty"`
	Uploaded   int     `json:"uploaded"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	RatePerSec float64 `json:"records_per_sec,omitempty"`
}

func printReportsJSON(w io.Writer, reports []*sync.CollectionReport) error {
	out := make([]reportJSON, 0, len(reports))

	for _, r := range reports {
		j := reportJSON{
			Collection: r.Collection,
			Success:    r.Success,
			Skipped:    r.Skipped,
			SkipReason: r.SkipReason,
			Uploaded:   r.Uploaded,
			DurationMS: r.Duration.Milliseconds(),
			RatePerSec: rate(r.Uploaded, r.Duration),
		}

		if r.Err != nil {
			j.Error = r.Err.Error()
		}

		out = append(out, j)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printReports(w io.Writer, reports []*sync.CollectionReport, dryRun bool) {
	verb := "uploaded"
	if dryRun {
		verb = "would upload"
	}

	for _, r := range reports {
		switch {
		case r.Skipped:
			fmt.Fprintf(w, "%s: skipped (%s)\n", r.Collection, r.SkipReason)
		case r.Success:
			fmt.Fprintf(w, "%s: %s %s records in %s\n",
				r.Collection, verb, formatCount(r.Uploaded), r.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "%s: FAILED after %s records: %v\n", r.Collection, formatCount(r.Uploaded), r.Err)
		}
	}
}

func printStatistics(w io.Writer, stats []sync.Statistics) {
	for _, s := range stats {
		fmt.Fprintf(w, "%s: cursor at %d\n", s.Collection, s.LastUploadedID)
	}
}

func rate(n int, d time.Duration) float64 {
	if n == 0 || d <= 0 {
		return 0
	}

	return float64(n) / d.Seconds()
}
