package config

import (
	"fmt"
	"io"

	gotoml "github.com/pelletier/go-toml/v2"
)

// RenderEffective writes the resolved configuration as TOML, after all
// four override layers, preceded by a comment naming the file it came
// from. This powers "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n")
	ew.printf("# file: %s\n\n", path)

	if ew.err != nil {
		return ew.err
	}

	enc := gotoml.NewEncoder(w)
	enc.SetIndentTables(true)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// errWriter captures the first write error so printf calls can be chained.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
