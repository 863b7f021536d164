//go:build darwin

package sync

import (
	"context"
	"log/slog"
	"syscall"
)

// getDiskSpace returns available bytes on the volume containing path.
func getDiskSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}

	return stat.Bavail * uint64(stat.Bsize), nil
}

func onExternalPower(_ context.Context, logger *slog.Logger) (bool, error) {
	logger.Debug("power state not available on this platform, assuming external power")
	return true, nil
}

func onUnmeteredNetwork(_ context.Context, logger *slog.Logger) (bool, error) {
	logger.Debug("network type not available on this platform, assuming unmetered")
	return true, nil
}
