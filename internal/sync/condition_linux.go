//go:build linux

package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// arphrdEther is the ARP hardware type of Ethernet and Wi-Fi links.
const arphrdEther = "1"

// getDiskSpace returns available bytes on the volume containing path.
// Bavail counts space available to unprivileged users.
func getDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}

	return uint64(stat.Bavail) * uint64(stat.Bsize), nil //nolint:gosec // kernel guarantees non-negative values
}

func readSysfs(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(b))
}

// onExternalPower checks /sys/class/power_supply: any online mains or USB
// adapter, or any battery charging or full, means external power.
func onExternalPower(_ context.Context, logger *slog.Logger) (bool, error) {
	dir := filepath.Join(sysfsRoot, "class", "power_supply")

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no power supply information, assuming external power")
		return true, nil
	}

	if err != nil {
		return false, err
	}

	batteries := 0

	for _, e := range entries {
		p := filepath.Join(dir, e.Name())

		switch readSysfs(filepath.Join(p, "type")) {
		case "Mains", "USB":
			if readSysfs(filepath.Join(p, "online")) == "1" {
				return true, nil
			}
		case "Battery":
			batteries++

			switch readSysfs(filepath.Join(p, "status")) {
			case "Charging", "Full":
				return true, nil
			}
		}
	}

	return batteries == 0, nil
}

// onUnmeteredNetwork checks /sys/class/net for an up Ethernet-type link
// that is not a WWAN modem.
func onUnmeteredNetwork(_ context.Context, logger *slog.Logger) (bool, error) {
	dir := filepath.Join(sysfsRoot, "class", "net")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		name := e.Name()
		if name == "lo" {
			continue
		}

		p := filepath.Join(dir, name)

		if readSysfs(filepath.Join(p, "operstate")) != "up" {
			continue
		}

		if readSysfs(filepath.Join(p, "type")) != arphrdEther {
			continue
		}

		if strings.Contains(readSysfs(filepath.Join(p, "uevent")), "DEVTYPE=wwan") {
			continue
		}

		logger.Debug("unmetered link up", slog.String("interface", name))

		return true, nil
	}

	return false, nil
}
