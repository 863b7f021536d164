// Package testutil provides shared environment helpers for E2E tests. It
// depends only on stdlib so that E2E tests (which cannot import internal/)
// can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowedHostsEnv lists the study servers E2E tests may upload to.
const AllowedHostsEnv = "AWARE_SYNC_ALLOWED_TEST_HOSTS"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// HostAllowed reports whether host is listed in AWARE_SYNC_ALLOWED_TEST_HOSTS.
// Uploading test records to a production study would pollute real data, so
// tests that talk to a server must check this first.
func HostAllowed(host string) bool {
	if host == "" {
		return false
	}

	for _, a := range strings.Split(os.Getenv(AllowedHostsEnv), ",") {
		if strings.TrimSpace(a) == host {
			return true
		}
	}

	return false
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// Isolate points HOME and the XDG directories below root and clears the
// aware-sync environment overrides, so a test run never reads or writes the
// developer's real config and state. Crashes on failure because tests
// cannot proceed without isolation.
func Isolate(root string) {
	for _, env := range []string{"AWARE_SYNC_CONFIG", "AWARE_SYNC_HOST", "AWARE_SYNC_DEVICE_ID"} {
		os.Unsetenv(env)
	}

	dirs := map[string]string{
		"HOME":            filepath.Join(root, "home"),
		"XDG_CONFIG_HOME": filepath.Join(root, "config"),
		"XDG_DATA_HOME":   filepath.Join(root, "data"),
	}

	for env, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: creating dir %s: %v\n", dir, err)
			os.Exit(1)
		}

		os.Setenv(env, dir)
	}
}
