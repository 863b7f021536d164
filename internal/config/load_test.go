package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// isolateHome points HOME and the XDG variables at a temp dir so default
// paths never touch the real user directories.
func isolateHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))

	return home
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
host = "api.awareframework.com/index.php/1/4lph4num3ric"
device_id = "5b6d8f2e-1111-2222-3333-444455556666"
background = true
request_timeout = "10s"
resource_timeout = "2m"
bandwidth_limit = "512KB/s"
user_agent = "study-phone/2"

[sync]
batch_size = 250
remove_after_sync = true
compact = true
debug_level = "verbose"
dry_run = true
interval = "15m"
wifi_only = true
charging_only = true
min_free_space = "200MB"
max_parallel = 2
shutdown_timeout = "5s"
watch_source = true
watch_debounce = "500ms"
feed_addr = "127.0.0.1:7070"

[source]
path = "/var/lib/aware/aware.db"
collections = ["accelerometer", "battery"]

[state]
path = "/var/lib/aware-sync/state.db"
device_id_path = "/var/lib/aware-sync/device_id"

[logging]
log_level = "debug"
log_file = "/var/log/aware-sync.log"
log_format = "json"
log_retention_days = 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "api.awareframework.com/index.php/1/4lph4num3ric", cfg.Server.Host)
	assert.True(t, cfg.Server.Background)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeoutDuration())
	assert.Equal(t, 2*time.Minute, cfg.Server.ResourceTimeoutDuration())
	assert.Equal(t, "512KB/s", cfg.Server.BandwidthLimit)

	assert.Equal(t, 250, cfg.Sync.BatchSize)
	assert.True(t, cfg.Sync.RemoveAfterSync)
	assert.True(t, cfg.Sync.Compact)
	assert.Equal(t, "verbose", cfg.Sync.DebugLevel)
	assert.Equal(t, 15*time.Minute, cfg.Sync.IntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.Sync.ShutdownTimeoutDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.WatchDebounceDuration())
	assert.Equal(t, uint64(200_000_000), cfg.Sync.MinFreeSpaceBytes())
	assert.Equal(t, 2, cfg.Sync.MaxParallel)
	assert.Equal(t, "127.0.0.1:7070", cfg.Sync.FeedAddr)

	assert.Equal(t, []string{"accelerometer", "battery"}, cfg.Source.Collections)
	assert.Equal(t, "/var/lib/aware-sync/state.db", cfg.State.Path)

	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 7, cfg.Logging.LogRetentionDays)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
batch_size = 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Sync.BatchSize = 50

	assert.Equal(t, want, cfg)
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[server]
hots = "example.com"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "server.hots"`)
	assert.Contains(t, err.Error(), `did you mean "server.host"?`)
}

func TestLoad_UnknownSectionSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[sycn]
batch_size = 10
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "sycn", did you mean "sync"?`)
}

func TestLoad_InvalidValuesReportedTogether(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
batch_size = 0
interval = "1s"

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "sync.batch_size")
	assert.Contains(t, msg, "sync.interval")
	assert.Contains(t, msg, "logging.log_level")
}

func TestLoad_SyntaxError(t *testing.T) {
	path := writeTestConfig(t, "[server\nhost = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolvePath_Precedence(t *testing.T) {
	isolateHome(t)

	assert.Equal(t, "/cli.toml", ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
	assert.Equal(t, "/env.toml", ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, DefaultConfigPath(), ResolvePath(EnvOverrides{}, CLIOverrides{}))
}

func TestResolve_OverrideChain(t *testing.T) {
	home := isolateHome(t)

	path := writeTestConfig(t, `
[server]
host = "file.example.com"
device_id = "from-file"

[sync]
dry_run = false

[source]
path = "~/aware.db"
collections = ["battery"]
`)

	cliHost := "cli.example.com"
	dryRun := true

	cfg, err := Resolve(
		EnvOverrides{Host: "env.example.com", DeviceID: "from-env"},
		CLIOverrides{ConfigPath: path, Host: &cliHost, DryRun: &dryRun, Collections: []string{"gps", "wifi"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "cli.example.com", cfg.Server.Host, "CLI beats env and file")
	assert.Equal(t, "from-env", cfg.Server.DeviceID, "env beats file")
	assert.True(t, cfg.Sync.DryRun)
	assert.Equal(t, []string{"gps", "wifi"}, cfg.Source.Collections)
	assert.Equal(t, filepath.Join(home, "aware.db"), cfg.Source.Path)

	assert.True(t, filepath.IsAbs(cfg.State.Path))
	assert.Equal(t, "state.db", filepath.Base(cfg.State.Path))
	assert.Equal(t, "device_id", filepath.Base(cfg.State.DeviceIDPath))
}

func TestResolve_EnvBeatsFile(t *testing.T) {
	isolateHome(t)

	path := writeTestConfig(t, `
[server]
host = "file.example.com"
`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: path, Host: "env.example.com"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.Server.Host)
}

func TestResolve_RelativeStatePathRejected(t *testing.T) {
	isolateHome(t)

	path := writeTestConfig(t, `
[state]
path = "relative/state.db"
`)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.path: must be absolute")
}
