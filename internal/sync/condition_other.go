//go:build !linux && !darwin

package sync

import (
	"context"
	"log/slog"
)

// getDiskSpace is not implemented here; reporting the maximum keeps the
// free-space condition satisfied.
func getDiskSpace(string) (uint64, error) {
	return ^uint64(0), nil
}

func onExternalPower(_ context.Context, logger *slog.Logger) (bool, error) {
	logger.Debug("power state not available on this platform, assuming external power")
	return true, nil
}

func onUnmeteredNetwork(_ context.Context, logger *slog.Logger) (bool, error) {
	logger.Debug("network type not available on this platform, assuming unmetered")
	return true, nil
}
