package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDirs_Linux(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG paths are Linux-only")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", appName), DefaultDataDir())

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	assert.Equal(t, "/xdg/config/aware-sync/config.toml", DefaultConfigPath())
	assert.Equal(t, "/xdg/data/aware-sync/state.db", DefaultStatePath())
	assert.Equal(t, "/xdg/data/aware-sync/device_id", DefaultDeviceIDPath())
}

func TestPIDFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/aware-sync", "aware-sync.pid"), PIDFilePath("/var/lib/aware-sync/state.db"))
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "data", "aware.db"), ExpandHome("~/data/aware.db"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
	assert.Empty(t, ExpandHome(""))
}
