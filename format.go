package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/aware-sync/internal/sync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// formatCount renders a record count with thousands separators.
func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

// formatAge renders how long ago t was, or "never" for the zero time.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return humanize.RelTime(t, now, "ago", "from now")
}

// palette colors state names. The zero value prints plain text.
type palette struct {
	ok, warn, bad, muted lipgloss.Style
	enabled              bool
}

func newPalette(enabled bool) palette {
	return palette{
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		enabled: enabled,
	}
}

func (p palette) state(s string) string {
	if !p.enabled {
		return s
	}

	switch s {
	case sync.StateCompleted.String(), "up to date":
		return p.ok.Render(s)
	case sync.StateActive.String(), sync.StateCancelling.String(), "pending":
		return p.warn.Render(s)
	case sync.StateFailed.String():
		return p.bad.Render(s)
	default:
		return p.muted.Render(s)
	}
}

// printTable writes aligned columns. Widths ignore ANSI styling, so
// colored cells line up.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
