// Package deviceid persists the identifier every upload is tagged with. The
// id is generated once per installation and survives restarts, so the
// server can attribute all batches to one device.
package deviceid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FilePerms restricts the id file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// ErrEmpty is returned when the id file exists but holds no id.
var ErrEmpty = errors.New("deviceid: file is empty")

// Load reads the persisted id. Returns ("", nil) if the file does not exist.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("deviceid: reading %s: %w", path, err)
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	return id, nil
}

// LoadOrCreate returns override when set. Otherwise it returns the id
// persisted at path, generating and saving a random UUID on first use.
func LoadOrCreate(path, override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}

	id, err := Load(path)
	if err != nil {
		return "", err
	}

	if id != "" {
		return id, nil
	}

	id = uuid.NewString()

	if err := Save(path, id); err != nil {
		return "", err
	}

	return id, nil
}

// LoadOrGenerate is LoadOrCreate without the write: with no override and
// no persisted id it returns a fresh UUID that is not saved.
func LoadOrGenerate(path, override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}

	id, err := Load(path)
	if err != nil || id != "" {
		return id, err
	}

	return uuid.NewString(), nil
}

// Save writes id to path atomically (write-to-temp + rename) with 0600
// permissions.
func Save(path, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmpty
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("deviceid: creating directory %s: %w", dir, err)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".device_id-*.tmp")
	if err != nil {
		return fmt.Errorf("deviceid: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("deviceid: setting permissions: %w", err)
	}

	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("deviceid: writing: %w", err)
	}

	// A power loss between close and rename must not leave an empty file
	// at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("deviceid: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("deviceid: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("deviceid: renaming: %w", err)
	}

	success = true

	return nil
}
