package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultRequestTimeout   = "30s"
	defaultResourceTimeout  = "5m"
	defaultBandwidthLimit   = "0"
	defaultBatchSize        = 1000
	defaultDebugLevel       = "info"
	defaultInterval         = "1m"
	defaultMinFreeSpace     = "0"
	defaultMaxParallel      = 4
	defaultShutdownTimeout  = "30s"
	defaultWatchDebounce    = "2s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			RequestTimeout:  defaultRequestTimeout,
			ResourceTimeout: defaultResourceTimeout,
			BandwidthLimit:  defaultBandwidthLimit,
		},
		Sync: SyncConfig{
			BatchSize:       defaultBatchSize,
			DebugLevel:      defaultDebugLevel,
			Interval:        defaultInterval,
			MinFreeSpace:    defaultMinFreeSpace,
			MaxParallel:     defaultMaxParallel,
			ShutdownTimeout: defaultShutdownTimeout,
			WatchDebounce:   defaultWatchDebounce,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
