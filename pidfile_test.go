package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDFile_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aware-sync.pid")

	cleanup, err := acquirePIDFile(path)
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFile_SecondHolderRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aware-sync.pid")

	cleanup, err := acquirePIDFile(path)
	require.NoError(t, err)
	defer cleanup()

	second, err := acquirePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.Contains(t, err.Error(), "already running")
}

func TestAcquirePIDFile_OverwritesLongerContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aware-sync.pid")
	require.NoError(t, os.WriteFile(path, []byte("123456789012345\n"), 0o644))

	cleanup, err := acquirePIDFile(path)
	require.NoError(t, err)
	defer cleanup()

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFile_CleanupRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "aware-sync.pid")

	cleanup, err := acquirePIDFile(path)
	require.NoError(t, err)

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquirePIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	cleanup, err := acquirePIDFile("")
	require.Error(t, err)
	assert.Nil(t, cleanup)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadPIDFile_InvalidContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aware-sync.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, err := readPIDFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}

func TestSignalWatcher_NoPIDFile(t *testing.T) {
	t.Parallel()

	_, err := signalWatcher(filepath.Join(t.TempDir(), "none.pid"), syscall.SIGHUP)
	assert.ErrorIs(t, err, errNoWatcher)
}

func TestSignalWatcher_StalePIDFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aware-sync.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	_, err := signalWatcher(path, syscall.SIGHUP)
	require.ErrorIs(t, err, errNoWatcher)
	assert.Contains(t, err.Error(), "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignalWatcher_DeliversSignal(t *testing.T) {
	// Not parallel: traps a process-wide signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	path := filepath.Join(t.TempDir(), "aware-sync.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, err := signalWatcher(path, syscall.SIGHUP)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, syscall.SIGHUP, <-sigCh)
}
