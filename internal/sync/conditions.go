package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// Condition gates a non-forced sync pass.
type Condition interface {
	Name() string
	Satisfied(ctx context.Context) (bool, error)
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc struct {
	name string
	fn   func(ctx context.Context) (bool, error)
}

// NewCondition returns a named Condition backed by fn.
func NewCondition(name string, fn func(ctx context.Context) (bool, error)) ConditionFunc {
	return ConditionFunc{name: name, fn: fn}
}

func (c ConditionFunc) Name() string { return c.name }

func (c ConditionFunc) Satisfied(ctx context.Context) (bool, error) { return c.fn(ctx) }

// sysfsRoot is where the Linux probes read power and network state.
// Tests point it at a fixture tree.
var sysfsRoot = "/sys"

// ChargingOnly is satisfied while the machine runs on external power. A
// machine without a battery always is.
func ChargingOnly(logger *slog.Logger) Condition {
	return NewCondition("charging_only", func(ctx context.Context) (bool, error) {
		return onExternalPower(ctx, logger)
	})
}

// WiFiOnly is satisfied while an unmetered link (Wi-Fi or wired ethernet)
// is up, so syncing never runs over mobile broadband alone.
func WiFiOnly(logger *slog.Logger) Condition {
	return NewCondition("wifi_only", func(ctx context.Context) (bool, error) {
		return onUnmeteredNetwork(ctx, logger)
	})
}

// MinFreeSpace is satisfied while the volume holding path has at least min
// bytes available, so cursor writes cannot fail for lack of space.
func MinFreeSpace(path string, min uint64, logger *slog.Logger) Condition {
	return NewCondition("min_free_space", func(_ context.Context) (bool, error) {
		avail, err := getDiskSpace(path)
		if err != nil {
			return false, fmt.Errorf("checking free space of %s: %w", path, err)
		}

		if avail < min {
			logger.Warn("low disk space",
				slog.String("path", path),
				slog.String("available", humanize.Bytes(avail)),
				slog.String("required", humanize.Bytes(min)),
			)

			return false, nil
		}

		return true, nil
	})
}
