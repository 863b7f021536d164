package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/aware-sync/internal/request"
	"github.com/tonimelisma/aware-sync/internal/transport"
)

// DefaultBatchSize is the batch size hosts use when none is configured.
const DefaultBatchSize = 1000

// ProgressFunc receives progress in [0,1]; err is set when a session fails.
type ProgressFunc func(progress float64, err error)

// CompletionFunc fires exactly once per session.
type CompletionFunc func(success bool, err error)

// DebugLevel controls engine log verbosity. The zero value silences the
// engine; hosts normally default to DebugInfo.
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugError
	DebugWarning
	DebugInfo
	DebugVerbose
	DebugTrace
)

var debugLevelNames = []string{"none", "error", "warning", "info", "verbose", "trace"}

func (l DebugLevel) String() string {
	if l < DebugNone || int(l) >= len(debugLevelNames) {
		return fmt.Sprintf("DebugLevel(%d)", int(l))
	}

	return debugLevelNames[l]
}

// ParseDebugLevel accepts the names printed by String or their numeric
// values "0" through "5".
func ParseDebugLevel(s string) (DebugLevel, error) {
	s = strings.TrimSpace(s)

	for i, name := range debugLevelNames {
		if strings.EqualFold(s, name) || s == strconv.Itoa(i) {
			return DebugLevel(i), nil
		}
	}

	return DebugNone, fmt.Errorf("sync: unknown debug level %q (want one of %s)", s,
		strings.Join(debugLevelNames, ", "))
}

// SlogLevel maps l onto the minimum slog level it lets through.
func (l DebugLevel) SlogLevel() slog.Level {
	switch l {
	case DebugNone:
		return slog.LevelError + 4
	case DebugError:
		return slog.LevelError
	case DebugWarning:
		return slog.LevelWarn
	case DebugInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Config is fixed for the life of an Engine.
type Config struct {
	Host       string
	Collection string

	BatchSize       int
	RemoveAfterSync bool
	Background      bool
	Compact         bool
	DebugLevel      DebugLevel
	DeviceID        string

	// OnProgress and OnComplete observe every session. OnComplete fires
	// before the CompletionFunc passed to Run.
	OnProgress ProgressFunc
	OnComplete CompletionFunc

	BodyHook    request.BodyHook
	RequestHook request.RequestHook

	// Test reports every upload as accepted without network I/O.
	Test bool

	// Executor delivers callbacks. Nil uses a per-engine serial queue.
	Executor Executor

	Limiter         *transport.BandwidthLimiter
	RequestTimeout  time.Duration
	ResourceTimeout time.Duration
	UserAgent       string

	// Transport overrides the HTTP round tripper.
	Transport http.RoundTripper
}

// withDefaults fills zero values that have a documented default.
func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}

	return c
}

func (c *Config) validate() error {
	var errs []error

	if request.CleanHost(c.Host) == "" {
		errs = append(errs, errors.New("host is empty"))
	}

	if request.NormalizeCollection(c.Collection) == "" {
		errs = append(errs, errors.New("collection is empty"))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size %d must be at least 1", c.BatchSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}

	return nil
}

// levelHandler drops records below min before they reach the wrapped
// handler.
type levelHandler struct {
	min slog.Level
	h   slog.Handler
}

func (lh *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= lh.min && lh.h.Enabled(ctx, l)
}

func (lh *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return lh.h.Handle(ctx, r)
}

func (lh *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{min: lh.min, h: lh.h.WithAttrs(attrs)}
}

func (lh *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{min: lh.min, h: lh.h.WithGroup(name)}
}
