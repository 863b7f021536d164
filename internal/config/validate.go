package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/aware-sync/internal/request"
	"github.com/tonimelisma/aware-sync/internal/sync"
	"github.com/tonimelisma/aware-sync/internal/transport"
)

// Validation range constants.
const (
	minBatchSize       = 1
	maxBatchSize       = 100_000
	minMaxParallel     = 1
	maxMaxParallel     = 64
	minLogRetention    = 1
	minRequestTimeout  = 1 * time.Second
	minInterval        = 10 * time.Second
	minShutdownTimeout = 1 * time.Second
	minWatchDebounce   = 100 * time.Millisecond
)

// Validate checks every value and returns all problems at once, so users
// can fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateSource(&cfg.Source)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold after overrides and
// path expansion.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.Server.Host != "" && request.CleanHost(cfg.Server.Host) == "" {
		errs = append(errs, fmt.Errorf("server.host: %q has no host name", cfg.Server.Host))
	}

	for field, p := range map[string]string{
		"state.path":           cfg.State.Path,
		"state.device_id_path": cfg.State.DeviceIDPath,
		"source.path":          cfg.Source.Path,
		"logging.log_file":     cfg.Logging.LogFile,
	} {
		if p != "" && !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("%s: must be absolute after expansion, got %q", field, p))
		}
	}

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Host != "" && request.CleanHost(s.Host) == "" {
		errs = append(errs, fmt.Errorf("server.host: %q has no host name", s.Host))
	}

	errs = append(errs, validateDurationMin("server.request_timeout", s.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDurationMin("server.resource_timeout", s.ResourceTimeout, minRequestTimeout)...)

	if len(errs) == 0 && s.ResourceTimeoutDuration() < s.RequestTimeoutDuration() {
		errs = append(errs, fmt.Errorf("server.resource_timeout: must be >= request_timeout (%s), got %s",
			s.RequestTimeout, s.ResourceTimeout))
	}

	if _, err := transport.ParseRate(s.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("server.bandwidth_limit: %w", err))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("sync.batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if _, err := sync.ParseDebugLevel(s.DebugLevel); err != nil {
		errs = append(errs, fmt.Errorf("sync.debug_level: %w", err))
	}

	errs = append(errs, validateDurationMin("sync.interval", s.Interval, minInterval)...)
	errs = append(errs, validateDurationMin("sync.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)
	errs = append(errs, validateDurationMin("sync.watch_debounce", s.WatchDebounce, minWatchDebounce)...)

	if s.MinFreeSpace != "" && s.MinFreeSpace != "0" {
		if _, err := humanize.ParseBytes(s.MinFreeSpace); err != nil {
			errs = append(errs, fmt.Errorf("sync.min_free_space: %w", err))
		}
	}

	if s.MaxParallel < minMaxParallel || s.MaxParallel > maxMaxParallel {
		errs = append(errs, fmt.Errorf("sync.max_parallel: must be between %d and %d, got %d",
			minMaxParallel, maxMaxParallel, s.MaxParallel))
	}

	if s.FeedAddr != "" {
		if _, _, err := net.SplitHostPort(s.FeedAddr); err != nil {
			errs = append(errs, fmt.Errorf("sync.feed_addr: %w", err))
		}
	}

	return errs
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	seen := make(map[string]bool, len(s.Collections))

	for _, c := range s.Collections {
		name := request.NormalizeCollection(c)
		if name == "" {
			errs = append(errs, errors.New("source.collections: names must not be empty"))
			continue
		}

		if seen[name] {
			errs = append(errs, fmt.Errorf("source.collections: %q listed twice", name))
		}

		seen[name] = true
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateOneOf("logging.log_level", l.LogLevel, validLogLevels)...)
	errs = append(errs, validateOneOf("logging.log_format", l.LogFormat, validLogFormats)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

func validateOneOf(field, value string, valid []string) []error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be one of %s; got %q", field, strings.Join(valid, ", "), value)}
}
