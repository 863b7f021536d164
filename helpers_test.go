package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv is an isolated installation: a record database, a state
// directory and a config file pointing at both.
type testEnv struct {
	dir        string
	sourcePath string
	statePath  string
	configPath string
}

func newTestEnv(t *testing.T, extraConfig string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("AWARE_SYNC_CONFIG", "")
	t.Setenv("AWARE_SYNC_HOST", "")
	t.Setenv("AWARE_SYNC_DEVICE_ID", "")

	env := &testEnv{
		dir:        dir,
		sourcePath: filepath.Join(dir, "aware.db"),
		statePath:  filepath.Join(dir, "state", "state.db"),
		configPath: filepath.Join(dir, "config.toml"),
	}

	rewriteConfig(t, env, extraConfig)

	return env
}

// rewriteConfig replaces the config file, keeping the paths of env.
func rewriteConfig(t *testing.T, env *testEnv, extraConfig string) {
	t.Helper()

	cfg := fmt.Sprintf(`
[server]
host = "study.example.invalid/index.php/1/abc"
device_id = "dev-test"

[source]
path = %q

[state]
path = %q

[logging]
log_level = "error"
%s`, env.sourcePath, env.statePath, extraConfig)

	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))
}

// addRecords creates table (if needed) in the record database and inserts n
// rows.
func (e *testEnv) addRecords(t *testing.T, table string, n int) {
	t.Helper()

	db, err := sql.Open("sqlite", e.sourcePath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		_id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp REAL,
		device_id TEXT,
		double_values_0 REAL
	)`, table))
	require.NoError(t, err)

	for i := range n {
		_, err := db.Exec(fmt.Sprintf(`INSERT INTO %q (timestamp, device_id, double_values_0) VALUES (?, ?, ?)`, table),
			float64(1_700_000_000_000+i), "dev-test", float64(i)/10)
		require.NoError(t, err)
	}
}

// run executes the root command with args and returns its stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	err := cmd.ExecuteContext(ctx)

	return out.String(), err
}
