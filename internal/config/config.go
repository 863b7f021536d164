// Package config implements TOML configuration loading, validation and
// platform-specific path resolution for aware-sync. Values pass through a
// four-layer override chain: defaults, then the config file, then the
// environment, then CLI flags.
package config

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Source  SourceConfig  `toml:"source"`
	State   StateConfig   `toml:"state"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig describes the remote insert endpoint and how to reach it.
type ServerConfig struct {
	Host            string `toml:"host"`
	DeviceID        string `toml:"device_id"`
	Background      bool   `toml:"background"`
	RequestTimeout  string `toml:"request_timeout"`
	ResourceTimeout string `toml:"resource_timeout"`
	BandwidthLimit  string `toml:"bandwidth_limit"`
	UserAgent       string `toml:"user_agent"`
}

// SyncConfig controls engine behavior and the watch-mode scheduler.
type SyncConfig struct {
	BatchSize       int    `toml:"batch_size"`
	RemoveAfterSync bool   `toml:"remove_after_sync"`
	Compact         bool   `toml:"compact"`
	DebugLevel      string `toml:"debug_level"`
	DryRun          bool   `toml:"dry_run"`
	Interval        string `toml:"interval"`
	WiFiOnly        bool   `toml:"wifi_only"`
	ChargingOnly    bool   `toml:"charging_only"`
	MinFreeSpace    string `toml:"min_free_space"`
	MaxParallel     int    `toml:"max_parallel"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	WatchSource     bool   `toml:"watch_source"`
	WatchDebounce   string `toml:"watch_debounce"`
	FeedAddr        string `toml:"feed_addr"`
}

// SourceConfig locates the local record database. An empty Collections
// list syncs every table that has an id column.
type SourceConfig struct {
	Path        string   `toml:"path"`
	Collections []string `toml:"collections"`
}

// StateConfig locates aware-sync's own files. Empty paths resolve to the
// platform data directory.
type StateConfig struct {
	Path         string `toml:"path"`
	DeviceIDPath string `toml:"device_id_path"`
}

// LoggingConfig controls log output: level, format and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit zero value: --dry-run=false differs
// from not passing --dry-run.
type CLIOverrides struct {
	ConfigPath  string
	Host        *string
	DryRun      *bool
	Collections []string
}

// The accessors below assume a validated Config; unparsable values fall
// back to the defaults.

// RequestTimeoutDuration returns server.request_timeout.
func (s *ServerConfig) RequestTimeoutDuration() time.Duration {
	return durationOr(s.RequestTimeout, defaultRequestTimeout)
}

// ResourceTimeoutDuration returns server.resource_timeout.
func (s *ServerConfig) ResourceTimeoutDuration() time.Duration {
	return durationOr(s.ResourceTimeout, defaultResourceTimeout)
}

// IntervalDuration returns sync.interval.
func (s *SyncConfig) IntervalDuration() time.Duration {
	return durationOr(s.Interval, defaultInterval)
}

// ShutdownTimeoutDuration returns sync.shutdown_timeout.
func (s *SyncConfig) ShutdownTimeoutDuration() time.Duration {
	return durationOr(s.ShutdownTimeout, defaultShutdownTimeout)
}

// WatchDebounceDuration returns sync.watch_debounce.
func (s *SyncConfig) WatchDebounceDuration() time.Duration {
	return durationOr(s.WatchDebounce, defaultWatchDebounce)
}

// MinFreeSpaceBytes returns sync.min_free_space; 0 disables the check.
func (s *SyncConfig) MinFreeSpaceBytes() uint64 {
	if s.MinFreeSpace == "" || s.MinFreeSpace == "0" {
		return 0
	}

	n, err := humanize.ParseBytes(s.MinFreeSpace)
	if err != nil {
		return 0
	}

	return n
}

func durationOr(value string, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
