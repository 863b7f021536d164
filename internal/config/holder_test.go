package config

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_ReloadPicksUpChanges(t *testing.T) {
	isolateHome(t)

	path := writeTestConfig(t, "[sync]\nbatch_size = 10\n")
	cli := CLIOverrides{ConfigPath: path}

	cfg, err := Resolve(EnvOverrides{}, cli)
	require.NoError(t, err)

	h := NewHolder(cfg, EnvOverrides{}, cli)
	assert.Equal(t, path, h.Path())
	assert.Equal(t, 10, h.Config().Sync.BatchSize)

	require.NoError(t, os.WriteFile(path, []byte("[sync]\nbatch_size = 20\n"), 0o600))

	got, err := h.Reload()
	require.NoError(t, err)
	assert.Equal(t, 20, got.Sync.BatchSize)
	assert.Equal(t, 20, h.Config().Sync.BatchSize)
}

func TestHolder_ReloadErrorKeepsSnapshot(t *testing.T) {
	isolateHome(t)

	path := writeTestConfig(t, "[sync]\nbatch_size = 10\n")
	cli := CLIOverrides{ConfigPath: path}

	cfg, err := Resolve(EnvOverrides{}, cli)
	require.NoError(t, err)

	h := NewHolder(cfg, EnvOverrides{}, cli)

	require.NoError(t, os.WriteFile(path, []byte("[sync]\nbatch_size = -1\n"), 0o600))

	_, err = h.Reload()
	require.Error(t, err)
	assert.Same(t, cfg, h.Config())
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	isolateHome(t)

	path := writeTestConfig(t, "")
	cli := CLIOverrides{ConfigPath: path}

	cfg, err := Resolve(EnvOverrides{}, cli)
	require.NoError(t, err)

	h := NewHolder(cfg, EnvOverrides{}, cli)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(2)

		go func() {
			defer wg.Done()
			_ = h.Config()
		}()

		go func() {
			defer wg.Done()
			_, _ = h.Reload()
		}()
	}

	wg.Wait()
	assert.NotNil(t, h.Config())
}
