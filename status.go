package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/aware-sync/internal/config"
	"github.com/tonimelisma/aware-sync/internal/cursor"
	"github.com/tonimelisma/aware-sync/internal/source"
)

// Result states shown by status.
const (
	resultNever     = "never"
	resultCompleted = "completed"
	resultFailed    = "failed"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cursors, pending records and last results per collection",
		Long: `Display, for every collection, the id of the last uploaded record, how
many records are still pending, the concurrent-run retry counter and the
outcome of the most recent session.`,
		RunE: runStatus,
	}
}

// statusReport is the JSON shape of "status --json".
type statusReport struct {
	Watcher     *watcherStatus     `json:"watcher,omitempty"`
	Collections []collectionStatus `json:"collections"`
}

type watcherStatus struct {
	PID int `json:"pid"`
}

type collectionStatus struct {
	Collection     string    `json:"collection"`
	LastUploadedID int64     `json:"last_uploaded_id"`
	Pending        int       `json:"pending"`
	Retries        int       `json:"retries"`
	Result         string    `json:"result"`
	Uploaded       int       `json:"last_uploaded"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	src, state, err := openStores(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer src.Close()
	defer state.Close()

	names := cc.Cfg.Source.Collections
	if len(names) == 0 {
		if names, err = src.Tables(ctx); err != nil {
			return err
		}
	}

	report, err := buildStatus(ctx, src, state, names)
	if err != nil {
		return err
	}

	if pid, err := readPIDFile(config.PIDFilePath(cc.Cfg.State.Path)); err == nil && processAlive(pid) {
		report.Watcher = &watcherStatus{PID: pid}
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatusText(out, report, newPalette(isTerminal(out)), time.Now())

	return nil
}

// buildStatus collects one row per collection. Collections with persisted
// state but no longer configured are listed too, with no pending count.
func buildStatus(ctx context.Context, src *source.Store, state cursor.Reader, names []string) (*statusReport, error) {
	report := &statusReport{}
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		seen[name] = true

		row, err := collectionRow(ctx, state, name)
		if err != nil {
			return nil, err
		}

		table, err := src.Collection(ctx, name)
		if err != nil {
			return nil, err
		}

		if row.Pending, err = table.Count(ctx, source.After(row.LastUploadedID)); err != nil {
			return nil, err
		}

		report.Collections = append(report.Collections, row)
	}

	entries, err := state.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if seen[e.Collection] {
			continue
		}

		row, err := collectionRow(ctx, state, e.Collection)
		if err != nil {
			return nil, err
		}

		row.Pending = -1
		report.Collections = append(report.Collections, row)
	}

	return report, nil
}

func collectionRow(ctx context.Context, state cursor.Reader, name string) (collectionStatus, error) {
	row := collectionStatus{Collection: name, Result: resultNever}

	var err error

	if row.LastUploadedID, err = state.LastUploadedID(ctx, name); err != nil {
		return row, err
	}

	if row.Retries, err = state.RetryCount(ctx, name); err != nil {
		return row, err
	}

	res, err := state.LastResult(ctx, name)
	if err != nil {
		return row, err
	}

	if res != nil {
		row.Result = resultFailed
		if res.Success {
			row.Result = resultCompleted
		}

		row.Uploaded = res.Uploaded
		row.Error = res.Err
		row.FinishedAt = res.FinishedAt
	}

	return row, nil
}

func printStatusText(w io.Writer, report *statusReport, p palette, now time.Time) {
	if report.Watcher != nil {
		fmt.Fprintf(w, "sync --watch running (PID %d)\n\n", report.Watcher.PID)
	}

	if len(report.Collections) == 0 {
		fmt.Fprintln(w, "No collections found.")
		return
	}

	rows := make([][]string, 0, len(report.Collections))

	for _, c := range report.Collections {
		pending := "-"
		if c.Pending >= 0 {
			pending = formatCount(c.Pending)
		}

		rows = append(rows, []string{
			c.Collection,
			fmt.Sprint(c.LastUploadedID),
			pending,
			fmt.Sprint(c.Retries),
			p.state(c.Result),
			formatAge(c.FinishedAt, now),
		})
	}

	printTable(w, []string{"COLLECTION", "CURSOR", "PENDING", "RETRIES", "LAST RESULT", "FINISHED"}, rows)

	for _, c := range report.Collections {
		if c.Error != "" {
			fmt.Fprintf(w, "\n%s: %s\n", c.Collection, c.Error)
		}
	}
}

// processAlive reports whether pid names a running process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscallZero) == nil
}
